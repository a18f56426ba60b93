package domain

// WriteStatus is the outcome of a write operation.
type WriteStatus string

const (
	WriteStatusSuccess        WriteStatus = "success"
	WriteStatusPartialFailure WriteStatus = "partial_failure"
)

// WriteResult is the record every write operation produces.
// Failures are carried as data; writes never abort the caller.
type WriteResult struct {
	Operation string      `json:"operation"`
	Status    WriteStatus `json:"status"`
	Errors    []string    `json:"errors,omitempty"`
	Attempted int         `json:"attempted"` // chunks attempted
	Failed    int         `json:"failed"`    // chunks that exhausted retries
}

// OK reports whether every chunk was written.
func (r WriteResult) OK() bool {
	return r.Status == WriteStatusSuccess
}
