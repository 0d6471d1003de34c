package canonical

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	dErrors "veriledger/pkg/domain-errors"
)

const (
	timestampLayout = "2006-01-02T15:04:05.000Z"
	dateLayout      = "2006-01-02"
	maxDepth        = 16
)

// EncodingError reports the field that could not be encoded and why.
type EncodingError struct {
	Path   string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return e.Path + ": " + e.Reason
}

// Encode returns the canonical bytes of obj.
func Encode(obj Object) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, "", obj, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsEncodingError reports whether err was produced by the encoder.
func IsEncodingError(err error) bool {
	var ee *EncodingError
	return errors.As(err, &ee)
}

func fail(path, format string, args ...any) error {
	ee := &EncodingError{Path: path, Reason: fmt.Sprintf(format, args...)}
	return dErrors.Wrap(ee, dErrors.CodeEncoding, ee.Error())
}

func encodeValue(buf *bytes.Buffer, path string, v Value, depth int) error {
	if depth > maxDepth {
		return fail(path, "nesting deeper than %d", maxDepth)
	}
	switch val := v.(type) {
	case nil:
		return fail(path, "missing value")
	case Object:
		return encodeObject(buf, path, val, depth)
	case List:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, fmt.Sprintf("%s[%d]", path, i), item, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case String:
		return encodeString(buf, path, string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case Null:
		buf.WriteString("null")
		return nil
	case Decimal:
		return encodeDecimal(buf, path, val)
	case Timestamp:
		t := time.Time(val)
		if t.IsZero() {
			return fail(path, "timestamp is required")
		}
		t = t.UTC().Truncate(time.Millisecond)
		if t.Year() < 1 || t.Year() > 9999 {
			return fail(path, "timestamp year out of range")
		}
		buf.WriteByte('"')
		buf.WriteString(t.Format(timestampLayout))
		buf.WriteByte('"')
		return nil
	case Date:
		d, err := time.Parse(dateLayout, string(val))
		if err != nil {
			return fail(path, "date must be YYYY-MM-DD")
		}
		buf.WriteByte('"')
		buf.WriteString(d.Format(dateLayout))
		buf.WriteByte('"')
		return nil
	default:
		return fail(path, "unsupported value type %T", v)
	}
}

func encodeObject(buf *bytes.Buffer, path string, obj Object, depth int) error {
	keys := make([]string, 0, len(obj))
	normalized := make(map[string]Value, len(obj))
	for k, v := range obj {
		if k == "" {
			return fail(path, "empty key")
		}
		if !utf8.ValidString(k) {
			return fail(path, "key is not valid UTF-8")
		}
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return fail(join(path, nk), "duplicate key after normalization")
		}
		normalized[nk] = v
		keys = append(keys, nk)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, path, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encodeValue(buf, join(path, k), normalized[k], depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeDecimal(buf *bytes.Buffer, path string, d Decimal) error {
	if d.Scale < 0 || d.Scale > 18 {
		return fail(path, "invalid scale %d", d.Scale)
	}
	if !d.Value.Equal(d.Value.Truncate(d.Scale)) {
		return fail(path, "more than %d decimal places", d.Scale)
	}
	if d.Min != nil && d.Value.LessThan(*d.Min) {
		if d.Min.IsZero() {
			return fail(path, "must not be negative")
		}
		return fail(path, "below minimum %s", d.Min.String())
	}
	if d.Max != nil && d.Value.GreaterThan(*d.Max) {
		return fail(path, "above maximum %s", d.Max.String())
	}
	buf.WriteByte('"')
	buf.WriteString(d.Value.StringFixed(d.Scale))
	buf.WriteByte('"')
	return nil
}

const hexDigits = "0123456789abcdef"

func encodeString(buf *bytes.Buffer, path, s string) error {
	if !utf8.ValidString(s) {
		return fail(path, "string is not valid UTF-8")
	}
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xF])
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
