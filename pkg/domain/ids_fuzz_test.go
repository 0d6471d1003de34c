//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseEntryID checks parsing never panics on arbitrary input and always
// returns either a valid ID or an error.
func FuzzParseEntryID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE ledger_entries;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseEntryID(input)
		if err == nil {
			roundTrip, err2 := ParseEntryID(id.String())
			if err2 != nil {
				t.Errorf("valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed ID value")
			}
			if id.IsNil() {
				t.Error("nil ID accepted")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseChainType checks only the two supported chain kinds are accepted.
func FuzzParseChainType(f *testing.F) {
	f.Add("fichajes")
	f.Add("facturas")
	f.Add("FACTURAS")
	f.Add("")

	f.Fuzz(func(t *testing.T, input string) {
		ct, err := ParseChainType(input)
		if err == nil && ct != ChainFichajes && ct != ChainFacturas {
			t.Errorf("unexpected chain type accepted: %q", input)
		}
	})
}
