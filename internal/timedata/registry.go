package timedata

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FieldOverride forces every value of a field into a fixed field type.
//
// Overrides are learned when InfluxDB rejects a write because the field
// already exists with another type.
type FieldOverride struct {
	// Field is the InfluxDB field name (the channel address).
	Field string `json:"field"`

	// Target is the type InfluxDB already stores for the field.
	Target FieldKind `json:"target"`

	// LearnedAt is when the override was registered.
	LearnedAt time.Time `json:"learned_at"`

	// Coerce converts a non-null value to Target. It returns false when
	// the value cannot be represented.
	Coerce func(Value) (FieldValue, bool) `json:"-"`
}

// NewFieldOverride builds the override converting every value to target.
//
// Conversion rules:
//   - Integer: numeric text parsed and truncated toward zero; Bool is 0/1
//   - Float: numeric text parsed; Bool is 0/1
//   - Boolean: Bool as-is; numbers are true when non-zero; strings
//     true/false/1/0/on/off (case-insensitive)
//   - String: canonical rendering of the value
func NewFieldOverride(field string, target FieldKind) FieldOverride {
	var fn func(Value) (FieldValue, bool)
	switch target {
	case FieldInteger:
		fn = toInteger
	case FieldFloat:
		fn = toFloat
	case FieldBoolean:
		fn = toBoolean
	default:
		fn = toString
	}
	return FieldOverride{Field: field, Target: target, Coerce: fn}
}

func toInteger(v Value) (FieldValue, bool) {
	switch v.Kind() {
	case KindBool:
		if v.BoolValue() {
			return IntegerValue(1), true
		}
		return IntegerValue(0), true
	case KindNumber, KindString:
		s := strings.TrimSpace(v.Text())
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return IntegerValue(i), true
		}
		f, ok := parseFloat(s)
		if !ok || f >= math.MaxInt64 || f < math.MinInt64 {
			return FieldValue{}, false
		}
		return IntegerValue(int64(math.Trunc(f))), true
	default:
		return FieldValue{}, false
	}
}

func toFloat(v Value) (FieldValue, bool) {
	switch v.Kind() {
	case KindBool:
		if v.BoolValue() {
			return FloatValue(1), true
		}
		return FloatValue(0), true
	case KindNumber, KindString:
		f, ok := parseFloat(strings.TrimSpace(v.Text()))
		if !ok {
			return FieldValue{}, false
		}
		return FloatValue(f), true
	default:
		return FieldValue{}, false
	}
}

func toBoolean(v Value) (FieldValue, bool) {
	switch v.Kind() {
	case KindBool:
		return BooleanValue(v.BoolValue()), true
	case KindNumber:
		f, ok := parseFloat(v.Text())
		if !ok {
			return FieldValue{}, false
		}
		return BooleanValue(f != 0), true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.Text())) {
		case "true", "1", "on":
			return BooleanValue(true), true
		case "false", "0", "off":
			return BooleanValue(false), true
		}
		return FieldValue{}, false
	default:
		return FieldValue{}, false
	}
}

func toString(v Value) (FieldValue, bool) {
	if v.IsNull() {
		return FieldValue{}, false
	}
	return StringValue(v.String()), true
}

// Registry holds the field overrides learned from type conflicts.
//
// Overrides are never evicted or replaced: the first registration for a
// field wins, since the type InfluxDB stores for a field does not change.
//
// Thread Safety: All methods are safe for concurrent use; lookups take a
// read lock only.
type Registry struct {
	mu        sync.RWMutex
	overrides map[string]FieldOverride
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		overrides: make(map[string]FieldOverride),
		now:       time.Now,
	}
}

// Override returns the override for field, if one was learned.
func (r *Registry) Override(field string) (FieldOverride, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.overrides[field]
	return o, ok
}

// Learn registers an override converting field to target.
//
// Returns true if the override was added, false if the field already had one.
func (r *Registry) Learn(field string, target FieldKind) bool {
	return r.Register(NewFieldOverride(field, target))
}

// Register adds a custom override. It is a no-op returning false when an
// override for o.Field already exists or o has no conversion function.
func (r *Registry) Register(o FieldOverride) bool {
	if o.Field == "" || o.Coerce == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.overrides[o.Field]; exists {
		return false
	}
	if o.LearnedAt.IsZero() {
		o.LearnedAt = r.now().UTC()
	}
	r.overrides[o.Field] = o
	return true
}

// Snapshot returns all overrides sorted by field name.
func (r *Registry) Snapshot() []FieldOverride {
	r.mu.RLock()
	out := make([]FieldOverride, 0, len(r.overrides))
	for _, o := range r.overrides {
		out = append(out, o)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Len returns the number of learned overrides.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.overrides)
}
