package fetch

import (
	"fmt"

	"nft-market-etl/internal/domain"
)

// UpstreamFetchError reports a provider call that failed after retries,
// returned a non-success status, or returned an undecodable body.
type UpstreamFetchError struct {
	Provider   domain.Provider
	Resource   string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *UpstreamFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Resource, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Resource, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}
