package models

import (
	"encoding/json"
	"time"

	id "veriledger/pkg/domain"
)

// CorrectionKind distinguishes amendments from voids.
type CorrectionKind string

const (
	CorrectionAmend CorrectionKind = "amend"
	CorrectionVoid  CorrectionKind = "void"
)

func (k CorrectionKind) IsValid() bool {
	return k == CorrectionAmend || k == CorrectionVoid
}

// EntryKind is the kind of entry an approved request seals.
func (k CorrectionKind) EntryKind() EntryKind {
	if k == CorrectionVoid {
		return KindVoid
	}
	return KindCorrection
}

type CorrectionState string

const (
	CorrectionPending  CorrectionState = "pending"
	CorrectionApproved CorrectionState = "approved"
	CorrectionRejected CorrectionState = "rejected"
)

// CorrectionRequest asks for an entry to be superseded or voided.
//
// Invariants:
//   - the request row never changes after creation
//   - at most one Decision exists, and once recorded it is final
//   - an approved request resulted in exactly one new entry
type CorrectionRequest struct {
	ID                id.CorrectionID     `json:"id"`
	Scope             Scope               `json:"scope"`
	OriginalID        id.EntryID          `json:"original_id"`
	OriginalSeq       int64               `json:"original_seq"`
	Kind              CorrectionKind      `json:"kind"`
	Reason            string              `json:"reason"`
	RequestedBy       id.UserID           `json:"requested_by"`
	ProposedPayload   json.RawMessage     `json:"proposed_payload,omitempty"`
	RectifyingEntryID *id.EntryID         `json:"rectifying_entry_id,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	Decision          *CorrectionDecision `json:"decision,omitempty"`
}

// State reports pending until a decision has been recorded.
func (r *CorrectionRequest) State() CorrectionState {
	if r.Decision == nil {
		return CorrectionPending
	}
	return r.Decision.State
}

func (r *CorrectionRequest) IsPending() bool {
	return r.Decision == nil
}

// CorrectionDecision is the single, insert-once outcome of a request.
type CorrectionDecision struct {
	RequestID        id.CorrectionID `json:"request_id"`
	State            CorrectionState `json:"state"`
	DecidedBy        id.UserID       `json:"decided_by"`
	Reason           string          `json:"reason,omitempty"`
	ResultingEntryID *id.EntryID     `json:"resulting_entry_id,omitempty"`
	DecidedAt        time.Time       `json:"decided_at"`
}
