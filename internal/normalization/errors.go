package normalization

import (
	"fmt"

	"nft-market-etl/internal/domain"
)

// NormalizationError reports a provider payload that cannot be mapped to
// canonical records, including error-shaped bodies.
type NormalizationError struct {
	Provider domain.Provider
	Resource string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s %s: %s", e.Provider, e.Resource, e.Reason)
}

func newError(p domain.Provider, resource, format string, args ...any) *NormalizationError {
	return &NormalizationError{Provider: p, Resource: resource, Reason: fmt.Sprintf(format, args...)}
}
