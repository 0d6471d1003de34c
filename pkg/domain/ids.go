package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "veriledger/pkg/domain-errors"
)

// Typed identifiers. Each is a distinct named type over uuid.UUID so a company
// id can never be passed where an entry id is expected.
type (
	CompanyID    uuid.UUID
	EntryID      uuid.UUID
	CorrectionID uuid.UUID
	UserID       uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", kind)
	}
	if !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s format", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be nil", kind)
	}
	return u, nil
}

// ParseCompanyID parses a company identifier at a trust boundary.
func ParseCompanyID(s string) (CompanyID, error) {
	u, err := parseUUID("company_id", s)
	return CompanyID(u), err
}

// ParseEntryID parses a ledger entry identifier at a trust boundary.
func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID("entry_id", s)
	return EntryID(u), err
}

// ParseCorrectionID parses a correction request identifier at a trust boundary.
func ParseCorrectionID(s string) (CorrectionID, error) {
	u, err := parseUUID("correction_id", s)
	return CorrectionID(u), err
}

// ParseUserID parses an actor identifier at a trust boundary.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user_id", s)
	return UserID(u), err
}

func (id CompanyID) String() string    { return uuid.UUID(id).String() }
func (id EntryID) String() string      { return uuid.UUID(id).String() }
func (id CorrectionID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string       { return uuid.UUID(id).String() }

func (id CompanyID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id CorrectionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

// Text marshaling keeps identifiers as canonical UUID strings in JSON
// bodies, cache values and alert messages.

func (id CompanyID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id EntryID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id CorrectionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }

func (id *CompanyID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EntryID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *CorrectionID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UserID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
