package models

import (
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
)

// Scope identifies one independent chain: a company's fichajes or facturas.
type Scope struct {
	CompanyID id.CompanyID `json:"company_id"`
	ChainType id.ChainType `json:"chain_type"`
}

// NewScope validates and builds a scope from raw input.
func NewScope(companyID, chainType string) (Scope, error) {
	cid, err := id.ParseCompanyID(companyID)
	if err != nil {
		return Scope{}, err
	}
	ct, err := id.ParseChainType(chainType)
	if err != nil {
		return Scope{}, err
	}
	return Scope{CompanyID: cid, ChainType: ct}, nil
}

// Key is the map key used for per-scope locks and indexes.
func (s Scope) Key() string {
	return s.CompanyID.String() + "/" + string(s.ChainType)
}

func (s Scope) String() string {
	return s.Key()
}

func (s Scope) Validate() error {
	if s.CompanyID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "company_id is required")
	}
	if !s.ChainType.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "chain_type must be fichajes or facturas")
	}
	return nil
}
