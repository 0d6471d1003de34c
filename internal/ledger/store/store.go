// Package store persists ledger chains. Entries are insert-only: no update or
// delete operation exists at any layer.
package store

import (
	"context"

	"veriledger/internal/ledger/models"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	"veriledger/pkg/platform/sentinel"
)

// ErrConcurrentAppend is returned when another writer sealed the seq this
// append was computed for. Callers re-read the tip and seal again.
var ErrConcurrentAppend = dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict, "concurrent append: chain tip moved")

// Ledger is the append-only chain store.
type Ledger interface {
	// Append inserts e as the next entry of its scope. The entry's Seq must be
	// tip+1 and its PrevHash the tip's hash, otherwise ErrConcurrentAppend.
	Append(ctx context.Context, e *models.Entry) error
	// Tip returns the last entry of the scope, or nil for an empty chain.
	Tip(ctx context.Context, scope models.Scope) (*models.Entry, error)
	// Range returns entries with from <= seq <= to in seq order. to <= 0 means
	// up to the tip.
	Range(ctx context.Context, scope models.Scope, from, to int64) ([]*models.Entry, error)
	ByCode(ctx context.Context, code string) (*models.Entry, error)
	ByID(ctx context.Context, entryID id.EntryID) (*models.Entry, error)
	BySeq(ctx context.Context, scope models.Scope, seq int64) (*models.Entry, error)
	// Markers returns the correction and void entries of the scope with seq > after.
	Markers(ctx context.Context, scope models.Scope, after int64) ([]*models.Entry, error)
	// StatusOf derives the status of the entry at seq from later markers.
	StatusOf(ctx context.Context, scope models.Scope, seq int64) (models.Status, error)
	Scopes(ctx context.Context) ([]models.Scope, error)
	// FlagSuspect records a verification failure. The first flag for a scope wins.
	FlagSuspect(ctx context.Context, flag models.SuspectFlag) error
	// SuspectFlag returns the scope's flag, or nil when the scope is clean.
	SuspectFlag(ctx context.Context, scope models.Scope) (*models.SuspectFlag, error)
}

// Statuses derives the status of every entry in entries from markers. Only
// markers whose sealed payload names the target, by seq and by hash, count.
func Statuses(entries, markers []*models.Entry) map[int64]models.Status {
	out := make(map[int64]models.Status, len(entries))
	hashes := make(map[int64]string, len(entries))
	for _, e := range entries {
		out[e.Seq] = models.StatusActive
		hashes[e.Seq] = e.Hash
	}
	for _, m := range markers {
		target := m.Target()
		current, ok := out[target]
		if !ok || m.Seq <= target || !declares(m, target, hashes[target]) {
			continue
		}
		switch {
		case m.Kind == models.KindVoid:
			out[target] = models.StatusVoided
		case current != models.StatusVoided:
			out[target] = models.StatusSuperseded
		}
	}
	return out
}

// sealedStatus derives the status of target from the markers that declare it
// in their sealed payload.
func sealedStatus(target *models.Entry, markers []*models.Entry) models.Status {
	declared := markers[:0:0]
	for _, m := range markers {
		if declares(m, target.Seq, target.Hash) {
			declared = append(declared, m)
		}
	}
	return models.DeriveStatus(target.Seq, declared)
}

func declares(m *models.Entry, seq int64, hash string) bool {
	ref, ok := models.SealedTarget(m)
	return ok && ref != nil && ref.Seq == seq && ref.Hash == hash
}

func validateAppend(e *models.Entry) error {
	if e == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "entry is required")
	}
	if err := e.Scope.Validate(); err != nil {
		return err
	}
	if e.Seq < 1 {
		return dErrors.New(dErrors.CodeInvariantViolation, "seq must start at 1")
	}
	if !e.Kind.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown entry kind")
	}
	if e.Hash == "" || e.Code == "" || e.PrevHash == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "entry is not sealed")
	}
	return nil
}
