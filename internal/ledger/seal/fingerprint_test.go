package seal

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veriledger/internal/ledger/models"
	id "veriledger/pkg/domain"
)

func TestFingerprint(t *testing.T) {
	payload := []byte(`{"a":1}`)

	h1, err := Fingerprint(payload, models.GenesisHash, 1)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	t.Run("deterministic", func(t *testing.T) {
		again, err := Fingerprint(payload, models.GenesisHash, 1)
		require.NoError(t, err)
		assert.Equal(t, h1, again)
	})

	t.Run("every input matters", func(t *testing.T) {
		otherPayload, _ := Fingerprint([]byte(`{"a":2}`), models.GenesisHash, 1)
		otherPrev, _ := Fingerprint(payload, strings.Repeat("1", 64), 1)
		otherSeq, _ := Fingerprint(payload, models.GenesisHash, 2)
		assert.NotEqual(t, h1, otherPayload)
		assert.NotEqual(t, h1, otherPrev)
		assert.NotEqual(t, h1, otherSeq)
	})

	t.Run("matches the documented formula", func(t *testing.T) {
		assert.Equal(t, recompute(payload, models.GenesisHash, 1), h1)
	})

	t.Run("rejects malformed prev hash", func(t *testing.T) {
		_, err := Fingerprint(payload, "abc", 1)
		assert.Error(t, err)
		_, err = Fingerprint(payload, strings.Repeat("z", 64), 1)
		assert.Error(t, err)
	})
}

func TestVerificationCode(t *testing.T) {
	scope := models.Scope{CompanyID: id.CompanyID(uuid.New()), ChainType: id.ChainFacturas}
	hash := strings.Repeat("ab", 32)

	code := VerificationCode(scope, 1, hash)
	assert.Len(t, code, CodeLength)
	assert.Equal(t, code, VerificationCode(scope, 1, hash))
	assert.NotEqual(t, code, VerificationCode(scope, 2, hash))
	assert.NotEqual(t, code, VerificationCode(models.Scope{CompanyID: scope.CompanyID, ChainType: id.ChainFichajes}, 1, hash))
	assert.NotContains(t, code, "I")
	assert.NotContains(t, code, "L")
	assert.NotContains(t, code, "O")
	assert.NotContains(t, code, "U")

	formatted := FormatCode(code)
	assert.Len(t, formatted, 19)
	assert.Equal(t, byte('-'), formatted[4])
}

func TestNormalizeCode(t *testing.T) {
	const code = "0123456789ABCDEF"

	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{code, code, true},
		{"0123-4567-89AB-CDEF", code, true},
		{" 0123 4567 89ab cdef ", code, true},
		{"O123-4567-89AB-CDEF", code, true},
		{"0123-4567-89AB-CDE", "", false},
		{"0123-4567-89AB-CDEF0", "", false},
		{"0123-4567-89AB-CDEU", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeCode(tc.input)
		assert.Equal(t, tc.ok, ok, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}

	aliased, ok := NormalizeCode("1IL1-0000-0000-0000")
	require.True(t, ok)
	assert.Equal(t, "1111000000000000", aliased)
}

func TestQRPayloadRoundTrip(t *testing.T) {
	scope := models.Scope{CompanyID: id.CompanyID(uuid.New()), ChainType: id.ChainFichajes}
	hash := strings.Repeat("cd", 32)
	e := &models.Entry{Scope: scope, Seq: 42, Hash: hash, Code: VerificationCode(scope, 42, hash)}

	qr := QRPayload("https://verify.example.es/", e)
	assert.True(t, strings.HasPrefix(qr, "https://verify.example.es/v1/verify?"))

	ref, ok := ParseQR(qr)
	require.True(t, ok)
	assert.Equal(t, e.Code, ref.Code)
	assert.Equal(t, int64(42), ref.Seq)
	assert.True(t, ref.Matches(e))

	other := *e
	other.Seq = 43
	assert.False(t, ref.Matches(&other))

	_, ok = ParseQR("https://verify.example.es/v1/verify?c=x")
	assert.False(t, ok)
}
