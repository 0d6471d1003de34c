package models

import (
	"time"

	id "veriledger/pkg/domain"
)

// GenesisHash is the prev_hash of the first entry of every chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EntryKind says what an entry's payload represents.
type EntryKind string

const (
	KindRecord     EntryKind = "record"
	KindCorrection EntryKind = "correction"
	KindVoid       EntryKind = "void"
)

func (k EntryKind) IsValid() bool {
	return k == KindRecord || k == KindCorrection || k == KindVoid
}

// Status is derived from later entries in the chain, never stored.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusVoided     Status = "voided"
)

// Entry is one sealed, immutable link of a chain.
//
// Invariants:
//   - Seq starts at 1 and is contiguous within Scope
//   - PrevHash equals the Hash of Seq-1, or GenesisHash when Seq == 1
//   - Hash = hex(SHA-256(Payload || raw(PrevHash) || uint64be(Seq)))
//   - Code is derived from (Scope, Seq, Hash)
//   - Supersedes is set only on correction entries, Voids only on void entries
type Entry struct {
	ID         id.EntryID `json:"id"`
	Scope      Scope      `json:"scope"`
	Seq        int64      `json:"seq"`
	Kind       EntryKind  `json:"kind"`
	Payload    []byte     `json:"payload"`
	PrevHash   string     `json:"prev_hash"`
	Hash       string     `json:"hash"`
	Code       string     `json:"code"`
	Supersedes int64      `json:"supersedes,omitempty"`
	Voids      int64      `json:"voids,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	IssuerID   string     `json:"issuer_id"`
}

// Target returns the seq this entry supersedes or voids, or 0 for records.
func (e *Entry) Target() int64 {
	switch e.Kind {
	case KindCorrection:
		return e.Supersedes
	case KindVoid:
		return e.Voids
	default:
		return 0
	}
}

// Ref is the stable reference a later entry embeds to point at this one.
func (e *Entry) Ref() EntryRef {
	return EntryRef{Seq: e.Seq, ID: e.ID.String(), Hash: e.Hash}
}

// DeriveStatus folds the marker entries that follow target into its status.
// The last matching marker wins; a void is final.
func DeriveStatus(target int64, later []*Entry) Status {
	status := StatusActive
	for _, e := range later {
		switch {
		case e.Kind == KindVoid && e.Voids == target:
			return StatusVoided
		case e.Kind == KindCorrection && e.Supersedes == target:
			status = StatusSuperseded
		}
	}
	return status
}

// SealMeta carries the non-payload attributes of a new entry.
type SealMeta struct {
	IssuerID   string
	Supersedes int64
	Voids      int64
}

// SuspectFlag marks a scope whose chain failed verification. Seals on a
// flagged scope are refused until an operator investigates.
type SuspectFlag struct {
	Scope     Scope     `json:"scope"`
	Seq       int64     `json:"seq"`
	Reason    string    `json:"reason"`
	FlaggedAt time.Time `json:"flagged_at"`
}
