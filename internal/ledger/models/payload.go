package models

import (
	"bytes"
	"encoding/json"

	"veriledger/internal/ledger/canonical"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
)

// Business is a typed record a collaborator asks the ledger to seal.
type Business interface {
	ChainType() id.ChainType
	Validate() error
	Canonical() (canonical.Object, error)
}

// DecodeBusiness parses a JSON business payload for the given chain type.
// Unknown fields are rejected so nothing unsealed can ride along.
func DecodeBusiness(chainType id.ChainType, raw []byte) (Business, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payload is required")
	}
	var b Business
	switch chainType {
	case id.ChainFichajes:
		b = &Fichaje{}
	case id.ChainFacturas:
		b = &Factura{}
	default:
		return nil, dErrors.New(dErrors.CodeInvalidInput, "chain_type must be fichajes or facturas")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(b); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid payload")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// validationError reports a business rule violation as an encoding failure,
// since the payload cannot be turned into canonical bytes.
func validationError(path, reason string) error {
	ee := &canonical.EncodingError{Path: path, Reason: reason}
	return dErrors.Wrap(ee, dErrors.CodeEncoding, ee.Error())
}
