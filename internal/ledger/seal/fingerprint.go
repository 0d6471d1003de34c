package seal

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"

	"veriledger/internal/ledger/models"
	dErrors "veriledger/pkg/domain-errors"
)

const (
	// Algorithm names the digest used for entry hashes.
	Algorithm = "SHA-256"
	// Formula documents how an entry hash is computed, for exports.
	Formula = "hex(SHA-256(payload || raw(prev_hash) || uint64be(seq)))"

	codeVersion = "CSV1"
	codeBytes   = 10
	// CodeLength is the number of symbols in a verification code.
	CodeLength = 16
	fieldSep   = 0x1F
)

// Crockford's base32 alphabet: no I, L, O or U.
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockford = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

// Fingerprint computes an entry hash. prevHash must be 64 hex characters.
func Fingerprint(payload []byte, prevHash string, seq int64) (string, error) {
	prev, err := hex.DecodeString(prevHash)
	if err != nil || len(prev) != sha256.Size {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "prev_hash must be 64 hex characters")
	}
	if seq < 1 {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "seq must start at 1")
	}
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], uint64(seq))

	h := sha256.New()
	h.Write(payload)
	h.Write(prev)
	h.Write(seqBytes[:])
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerificationCode derives the public code of an entry. It is a truncated
// digest of public chain coordinates, so it reveals nothing about the payload
// and needs no secret to recompute.
func VerificationCode(scope models.Scope, seq int64, hash string) string {
	h := sha256.New()
	h.Write([]byte(codeVersion))
	h.Write([]byte(scope.CompanyID.String()))
	h.Write([]byte{fieldSep})
	h.Write([]byte(scope.ChainType))
	h.Write([]byte{fieldSep})
	h.Write([]byte(strconv.FormatInt(seq, 10)))
	h.Write([]byte{fieldSep})
	h.Write([]byte(hash))
	return crockford.EncodeToString(h.Sum(nil)[:codeBytes])
}

// FormatCode groups a code for display: XXXX-XXXX-XXXX-XXXX.
func FormatCode(code string) string {
	if len(code) != CodeLength {
		return code
	}
	return code[0:4] + "-" + code[4:8] + "-" + code[8:12] + "-" + code[12:16]
}

// NormalizeCode turns user input into the stored code form. Separators,
// whitespace and case are ignored, and the Crockford aliases O→0 and I/L→1
// are applied. It reports false when the result cannot be a valid code.
func NormalizeCode(input string) (string, bool) {
	var b strings.Builder
	b.Grow(CodeLength)
	for _, r := range strings.ToUpper(input) {
		switch r {
		case '-', ' ', '\t', '.':
			continue
		case 'O':
			r = '0'
		case 'I', 'L':
			r = '1'
		}
		if !strings.ContainsRune(crockfordAlphabet, r) {
			return "", false
		}
		b.WriteRune(r)
		if b.Len() > CodeLength {
			return "", false
		}
	}
	if b.Len() != CodeLength {
		return "", false
	}
	return b.String(), true
}
