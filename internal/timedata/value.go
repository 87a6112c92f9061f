package timedata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the variant of an inbound Value.
type Kind int

// Value kinds.
const (
	KindNull Kind = iota
	KindNumber
	KindBool
	KindString
	KindOther
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a loosely typed channel reading as it arrives from a device.
//
// Numbers keep their textual form, so "42" and "42.0" remain
// distinguishable after transport. Structured values keep their
// canonical JSON rendering.
//
// The zero Value is Null.
type Value struct {
	kind Kind
	text string
	b    bool
}

// Null returns the absent value.
func Null() Value { return Value{} }

// Number returns a numeric value with the given textual form.
func Number(text string) Value { return Value{kind: KindNumber, text: text} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Other returns a structured value with the given canonical rendering.
func Other(rendered string) Value { return Value{kind: KindOther, text: rendered} }

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the textual form of a Number, the content of a String or
// the rendering of an Other value. It is empty for Null and Bool.
func (v Value) Text() string { return v.text }

// BoolValue returns the content of a Bool value.
func (v Value) BoolValue() bool { return v.b }

// String returns the canonical rendering of v.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.text
	}
}

// MarshalJSON renders v as the JSON value it was decoded from.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber:
		return []byte(v.text), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	case KindString:
		return json.Marshal(v.text)
	case KindOther:
		return []byte(v.text), nil
	default:
		return nil, fmt.Errorf("timedata: cannot marshal value kind %s", v.kind)
	}
}

// UnmarshalJSON decodes any JSON value into v, keeping number text.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}

// ValueOf converts a decoded Go value into a Value.
//
// json.Number keeps its text; integers and floats are formatted in their
// shortest form; maps, slices and other types become Other with their
// JSON rendering (fmt rendering if JSON fails).
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case json.Number:
		return Number(t.String())
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case int:
		return Number(strconv.FormatInt(int64(t), 10))
	case int32:
		return Number(strconv.FormatInt(int64(t), 10))
	case int64:
		return Number(strconv.FormatInt(t, 10))
	case uint32:
		return Number(strconv.FormatUint(uint64(t), 10))
	case uint64:
		return Number(strconv.FormatUint(t, 10))
	case float32:
		return floatValue(float64(t), 32)
	case float64:
		return floatValue(t, 64)
	default:
		rendered, err := json.Marshal(t)
		if err != nil {
			return Other(fmt.Sprint(t))
		}
		return Other(string(rendered))
	}
}

// floatValue keeps a decimal point in the text of native floats so that
// they are still recognised as floats by the coercer.
func floatValue(f float64, bitSize int) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	text := strconv.FormatFloat(f, 'g', -1, bitSize)
	if floatPattern.MatchString(text) {
		return Number(text)
	}
	return Number(text + ".0")
}

// Samples holds channel readings of one device, keyed by timestamp
// (epoch milliseconds) and then by channel address.
type Samples map[int64]map[string]Value
