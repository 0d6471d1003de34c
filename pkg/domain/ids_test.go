package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "veriledger/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseCompanyID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseCompanyID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseCompanyID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseCompanyID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, CompanyID(validUUID), id)
	})
}

// TestParseID_TrustBoundary validates parsing rejects hostile input at API entry points.
func TestParseID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE ledger_entries;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "550e8400\u200B-e29b-41d4-a716-446655440000", true},
		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEntryID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

// TestAllIDTypes_ConsistentBehavior ensures all ID types parse identically.
func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	validUUID := uuid.New().String()

	t.Run("all accept valid UUID", func(t *testing.T) {
		_, errCompany := ParseCompanyID(validUUID)
		_, errEntry := ParseEntryID(validUUID)
		_, errCorrection := ParseCorrectionID(validUUID)
		_, errUser := ParseUserID(validUUID)

		require.NoError(t, errCompany)
		require.NoError(t, errEntry)
		require.NoError(t, errCorrection)
		require.NoError(t, errUser)
	})

	for _, input := range []string{"", "invalid", uuid.Nil.String()} {
		t.Run("all reject: "+input, func(t *testing.T) {
			_, errCompany := ParseCompanyID(input)
			_, errEntry := ParseEntryID(input)
			_, errCorrection := ParseCorrectionID(input)
			_, errUser := ParseUserID(input)

			require.Error(t, errCompany)
			require.Error(t, errEntry)
			require.Error(t, errCorrection)
			require.Error(t, errUser)
		})
	}
}

func TestParseChainType(t *testing.T) {
	t.Run("accepts supported kinds", func(t *testing.T) {
		for _, raw := range []string{"fichajes", "facturas"} {
			ct, err := ParseChainType(raw)
			require.NoError(t, err)
			assert.Equal(t, raw, ct.String())
		}
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		_, err := ParseChainType("nominas")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("entity type is singular", func(t *testing.T) {
		assert.Equal(t, "factura", ChainFacturas.EntityType())
		assert.Equal(t, "fichaje", ChainFichajes.EntityType())
	})
}

func TestIDsMarshalAsStrings(t *testing.T) {
	u := uuid.New()
	body := struct {
		Company CompanyID `json:"company"`
		Entry   *EntryID  `json:"entry"`
		User    UserID    `json:"user"`
	}{Company: CompanyID(u), User: UserID(u)}

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"company":"`+u.String()+`","entry":null,"user":"`+u.String()+`"}`, string(raw))

	var back struct {
		Company CompanyID `json:"company"`
	}
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, CompanyID(u), back.Company)
}
