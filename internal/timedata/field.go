package timedata

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FieldKind is an InfluxDB field type.
type FieldKind int

// Field kinds supported by InfluxDB.
const (
	FieldInteger FieldKind = iota + 1
	FieldFloat
	FieldBoolean
	FieldString
)

// String returns the type name InfluxDB uses in its error messages.
func (k FieldKind) String() string {
	switch k {
	case FieldInteger:
		return "integer"
	case FieldFloat:
		return "float"
	case FieldBoolean:
		return "boolean"
	case FieldString:
		return "string"
	default:
		return fmt.Sprintf("fieldkind(%d)", int(k))
	}
}

// MarshalText renders the kind by name.
func (k FieldKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseFieldKind maps an InfluxDB type name to a FieldKind.
func ParseFieldKind(name string) (FieldKind, bool) {
	switch name {
	case "integer":
		return FieldInteger, true
	case "float":
		return FieldFloat, true
	case "boolean":
		return FieldBoolean, true
	case "string":
		return FieldString, true
	default:
		return 0, false
	}
}

// FieldValue is a value in one of the InfluxDB field types.
//
// FieldValues are comparable with ==.
type FieldValue struct {
	kind FieldKind
	i    int64
	f    float64
	b    bool
	s    string
}

// IntegerValue returns an integer field value.
func IntegerValue(i int64) FieldValue { return FieldValue{kind: FieldInteger, i: i} }

// FloatValue returns a float field value.
func FloatValue(f float64) FieldValue { return FieldValue{kind: FieldFloat, f: f} }

// BooleanValue returns a boolean field value.
func BooleanValue(b bool) FieldValue { return FieldValue{kind: FieldBoolean, b: b} }

// StringValue returns a string field value.
func StringValue(s string) FieldValue { return FieldValue{kind: FieldString, s: s} }

// Kind returns the field type of fv.
func (fv FieldValue) Kind() FieldKind { return fv.kind }

// Any returns the Go value handed to the InfluxDB client
// (int64, float64, bool or string).
func (fv FieldValue) Any() any {
	switch fv.kind {
	case FieldInteger:
		return fv.i
	case FieldFloat:
		return fv.f
	case FieldBoolean:
		return fv.b
	case FieldString:
		return fv.s
	default:
		return nil
	}
}

// String renders fv for logs.
func (fv FieldValue) String() string {
	switch fv.kind {
	case FieldInteger:
		return strconv.FormatInt(fv.i, 10) + "i"
	case FieldFloat:
		return strconv.FormatFloat(fv.f, 'g', -1, 64)
	case FieldBoolean:
		return strconv.FormatBool(fv.b)
	case FieldString:
		return strconv.Quote(fv.s)
	default:
		return "<invalid>"
	}
}

// MarshalJSON renders fv as a plain JSON value.
func (fv FieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(fv.Any())
}

// Point is one write unit: all coerced fields of a device at one timestamp.
type Point struct {
	DeviceID  uint32
	Timestamp int64 // epoch milliseconds
	Fields    map[string]FieldValue
}
