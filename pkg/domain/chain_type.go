package domain

import dErrors "veriledger/pkg/domain-errors"

// ChainType identifies the record kind a chain holds. Each company has one
// independent chain per type.
//
// Usage: construct via ParseChainType at trust boundaries; direct casting
// bypasses validation.
type ChainType string

const (
	ChainFichajes ChainType = "fichajes"
	ChainFacturas ChainType = "facturas"
)

var validChainTypes = map[ChainType]bool{
	ChainFichajes: true,
	ChainFacturas: true,
}

// ParseChainType constructs a ChainType from external input.
func ParseChainType(s string) (ChainType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "chain_type cannot be empty")
	}
	t := ChainType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "chain_type must be fichajes or facturas")
	}
	return t, nil
}

// IsValid checks the chain type is one of the supported kinds.
func (t ChainType) IsValid() bool {
	return validChainTypes[t]
}

func (t ChainType) String() string {
	return string(t)
}

// EntityType is the singular noun shown to third parties on verification.
func (t ChainType) EntityType() string {
	switch t {
	case ChainFichajes:
		return "fichaje"
	case ChainFacturas:
		return "factura"
	default:
		return "unknown"
	}
}
