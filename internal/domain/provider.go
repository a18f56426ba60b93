package domain

// Provider identifies an upstream market-data vendor.
type Provider string

const (
	ProviderMnemonic Provider = "mnemonic"
	ProviderGallop   Provider = "gallop"
)

// AllProviders lists every provider in refresh order.
var AllProviders = []Provider{ProviderMnemonic, ProviderGallop}

// String returns the string representation of Provider.
func (p Provider) String() string {
	return string(p)
}

// IsValid checks if the provider is a known value.
func (p Provider) IsValid() bool {
	return p == ProviderMnemonic || p == ProviderGallop
}
