package verify

import (
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/seal"
)

// Finding is the outcome of walking a run of entries.
type Finding struct {
	OK      bool
	BreakAt int64
	Reason  models.BreakReason
	Checked int64
	TipHash string
}

// Check walks entries in order. The first entry must have seq firstSeq and
// link to prevHash; each later entry must follow its predecessor. A correction
// or void must declare its target in the sealed payload, and when the target
// is among entries its embedded hash must match. It stops at the first failed
// check. Check reads nothing but its arguments, so exports can be verified
// offline with the same rules.
func Check(scope models.Scope, entries []*models.Entry, firstSeq int64, prevHash string) Finding {
	return CheckWith(scope, entries, firstSeq, prevHash, nil)
}

// CheckWith is Check with a fallback that supplies the hash of a target sealed
// before entries. A nil fallback, or one that reports the target unknown,
// leaves that target hash unchecked.
func CheckWith(scope models.Scope, entries []*models.Entry, firstSeq int64, prevHash string, earlier func(seq int64) (string, bool)) Finding {
	f := Finding{OK: true}
	want := firstSeq
	seen := make(map[int64]string, len(entries))
	for _, e := range entries {
		reason, ok := checkEntry(scope, e, want, prevHash)
		if ok {
			reason, ok = checkTarget(e, seen, earlier)
		}
		if !ok {
			at := e.Seq
			if reason == models.BreakSeqGap {
				at = want
			}
			return Finding{BreakAt: at, Reason: reason, Checked: f.Checked, TipHash: f.TipHash}
		}
		f.Checked++
		seen[e.Seq] = e.Hash
		f.TipHash = e.Hash
		prevHash = e.Hash
		want++
	}
	return f
}

func checkEntry(scope models.Scope, e *models.Entry, wantSeq int64, prevHash string) (models.BreakReason, bool) {
	if e.Seq != wantSeq {
		return models.BreakSeqGap, false
	}
	hash, err := seal.Fingerprint(e.Payload, e.PrevHash, e.Seq)
	if err != nil || hash != e.Hash {
		return models.BreakHashMismatch, false
	}
	if e.PrevHash != prevHash {
		return models.BreakPrevLinkMismatch, false
	}
	if seal.VerificationCode(scope, e.Seq, e.Hash) != e.Code {
		return models.BreakCodeMismatch, false
	}
	return "", true
}

func checkTarget(e *models.Entry, seen map[int64]string, earlier func(seq int64) (string, bool)) (models.BreakReason, bool) {
	ref, ok := models.SealedTarget(e)
	if !ok {
		return models.BreakMarkerMismatch, false
	}
	if ref == nil {
		return "", true
	}
	if ref.Seq < 1 || ref.Seq >= e.Seq {
		return models.BreakMarkerMismatch, false
	}
	hash, known := seen[ref.Seq]
	if !known && earlier != nil {
		hash, known = earlier(ref.Seq)
	}
	if known && hash != ref.Hash {
		return models.BreakMarkerMismatch, false
	}
	return "", true
}
