// Package canonical produces the deterministic byte form of ledger payloads.
//
// The encoding is canonical JSON:
//   - object keys NFC-normalized and sorted bytewise, duplicates rejected
//   - no insignificant whitespace
//   - strings NFC-normalized, escaped minimally (no HTML escaping)
//   - fixed-point decimals rendered at their declared scale ("10" and "10.00"
//     are the same amount and encode identically; "10.001" at scale 2 is rejected)
//   - timestamps as RFC 3339 UTC with millisecond precision
//   - calendar dates as YYYY-MM-DD
//   - integers as JSON integers, arrays in the given order
//
// Encoding is pure: the same Object always yields the same bytes.
package canonical

import (
	"time"

	"github.com/shopspring/decimal"
)

// Value is a node of a canonical document. The set of implementations is closed.
type Value interface {
	canonical()
}

// Object is an unordered set of named values.
type Object map[string]Value

// List is an ordered sequence of values.
type List []Value

// String is a text value, NFC-normalized on encoding.
type String string

// Int is a signed integer value.
type Int int64

// Bool is a boolean value.
type Bool bool

// Null is the explicit absence of a value.
type Null struct{}

// Decimal is a fixed-point number rendered with exactly Scale fractional digits.
// Min and Max bound the accepted range when set.
type Decimal struct {
	Value decimal.Decimal
	Scale int32
	Min   *decimal.Decimal
	Max   *decimal.Decimal
}

// Timestamp is an instant, normalized to UTC milliseconds.
type Timestamp time.Time

// Date is a calendar date in YYYY-MM-DD form.
type Date string

func (Object) canonical()    {}
func (List) canonical()      {}
func (String) canonical()    {}
func (Int) canonical()       {}
func (Bool) canonical()      {}
func (Null) canonical()      {}
func (Decimal) canonical()   {}
func (Timestamp) canonical() {}
func (Date) canonical()      {}

var zero = decimal.Zero

// Amount is a non-negative monetary value with two decimal places.
func Amount(d decimal.Decimal) Decimal {
	return Decimal{Value: d, Scale: 2, Min: &zero}
}

// Bounded is a fixed-point value within [lo, hi].
func Bounded(d decimal.Decimal, scale int32, lo, hi decimal.Decimal) Decimal {
	return Decimal{Value: d, Scale: scale, Min: &lo, Max: &hi}
}
