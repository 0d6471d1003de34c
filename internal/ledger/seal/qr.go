package seal

import (
	"net/url"
	"strconv"
	"strings"

	"veriledger/internal/ledger/models"
)

// hashPrefixLen is how much of the hash a QR payload carries for a visual
// cross-check; the code alone identifies the entry.
const hashPrefixLen = 16

// QRRef is the parsed content of a QR verification URL.
type QRRef struct {
	CompanyID  string
	ChainType  string
	Seq        int64
	HashPrefix string
	Code       string
}

// QRPayload returns the URL printed as a QR code on a receipt or invoice.
func QRPayload(baseURL string, e *models.Entry) string {
	q := url.Values{}
	q.Set("c", e.Scope.CompanyID.String())
	q.Set("t", string(e.Scope.ChainType))
	q.Set("n", strconv.FormatInt(e.Seq, 10))
	q.Set("h", e.Hash[:min(hashPrefixLen, len(e.Hash))])
	q.Set("csv", e.Code)
	return strings.TrimRight(baseURL, "/") + "/v1/verify?" + q.Encode()
}

// ParseQR extracts the verification fields from a QR URL or its query string.
func ParseQR(raw string) (*QRRef, bool) {
	raw = strings.TrimSpace(raw)
	query := raw
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		query = raw[i+1:]
	}
	q, err := url.ParseQuery(query)
	if err != nil {
		return nil, false
	}
	code, ok := NormalizeCode(q.Get("csv"))
	if !ok {
		return nil, false
	}
	ref := &QRRef{
		CompanyID:  q.Get("c"),
		ChainType:  q.Get("t"),
		HashPrefix: strings.ToLower(q.Get("h")),
		Code:       code,
	}
	if n := q.Get("n"); n != "" {
		seq, err := strconv.ParseInt(n, 10, 64)
		if err != nil || seq < 1 {
			return nil, false
		}
		ref.Seq = seq
	}
	return ref, true
}

// Matches reports whether every coordinate present in the QR agrees with e.
func (r *QRRef) Matches(e *models.Entry) bool {
	if r.Code != e.Code {
		return false
	}
	if r.CompanyID != "" && !strings.EqualFold(r.CompanyID, e.Scope.CompanyID.String()) {
		return false
	}
	if r.ChainType != "" && r.ChainType != string(e.Scope.ChainType) {
		return false
	}
	if r.Seq != 0 && r.Seq != e.Seq {
		return false
	}
	if r.HashPrefix != "" && !strings.HasPrefix(e.Hash, r.HashPrefix) {
		return false
	}
	return true
}
