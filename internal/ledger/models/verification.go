package models

// BreakReason names the first check that failed during chain verification.
type BreakReason string

const (
	BreakHashMismatch       BreakReason = "hash_mismatch"
	BreakPrevLinkMismatch   BreakReason = "prev_link_mismatch"
	BreakSeqGap             BreakReason = "seq_gap"
	BreakCodeMismatch       BreakReason = "code_mismatch"
	BreakMissingPredecessor BreakReason = "missing_predecessor"
	// BreakMarkerMismatch: kind or target columns disagree with the sealed payload.
	BreakMarkerMismatch BreakReason = "marker_mismatch"
)

// VerificationResult is the outcome of recomputing part of a chain.
type VerificationResult struct {
	Scope        Scope       `json:"scope"`
	From         int64       `json:"from"`
	To           int64       `json:"to"`
	OK           bool        `json:"ok"`
	FirstBreakAt int64       `json:"first_break_at,omitempty"`
	Reason       BreakReason `json:"reason,omitempty"`
	Checked      int64       `json:"checked"`
	TipHash      string      `json:"tip_hash,omitempty"`
}

// Resolution is what a third party sees for a verification code. Only
// whitelisted summary fields are ever exposed.
type Resolution struct {
	Valid      bool              `json:"valid"`
	EntityType string            `json:"entity_type,omitempty"`
	Status     Status            `json:"status,omitempty"`
	Summary    map[string]string `json:"summary,omitempty"`
}

// Miss is the uniform answer for codes that do not resolve.
func Miss() *Resolution {
	return &Resolution{Valid: false}
}
