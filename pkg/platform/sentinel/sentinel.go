package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into coded domain errors.
//
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: the write lost a race (for the ledger: the chain tip moved)
//   - ErrAlreadyUsed: an insert-once row already exists (e.g. a correction decision)
//   - ErrInvalidState: entity is in the wrong state for the operation
//   - ErrUnavailable: backing service temporarily unavailable
//
// Input validation failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
