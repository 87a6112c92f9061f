package timedata

import (
	"math"
	"regexp"
	"strconv"
)

var (
	// floatPattern matches decimal numerals with a fraction and/or an
	// exponent: "3.14", "-.5", "7.", "1e3", "2.5E-4".
	floatPattern = regexp.MustCompile(`^[-+]?(?:(?:[0-9]+\.[0-9]*|\.[0-9]+)(?:[eE][-+]?[0-9]+)?|[0-9]+[eE][-+]?[0-9]+)$`)

	// integerPattern matches plain decimal integers.
	integerPattern = regexp.MustCompile(`^[-+]?[0-9]+$`)
)

// Coercer converts inbound Values into InfluxDB field values.
//
// Type is inferred from syntax. Once InfluxDB has reported the stored type
// of a field, the override learned in the Registry takes precedence.
//
// Note: "42.0" coerces to Float, not Integer. Integral values sent as
// decimal text are classified by their text, not their magnitude.
//
// Thread Safety: Coercer is stateless apart from the Registry and safe for
// concurrent use.
type Coercer struct {
	registry *Registry
	logger   Logger
}

// NewCoercer creates a coercer consulting the given registry.
func NewCoercer(registry *Registry, logger Logger) *Coercer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Coercer{registry: registry, logger: logger}
}

// Coerce converts v for the named field.
//
// Returns false when the field must be omitted from the point: v is Null,
// a learned override cannot convert v, or a number cannot be represented.
func (c *Coercer) Coerce(field string, v Value) (FieldValue, bool) {
	if v.IsNull() {
		return FieldValue{}, false
	}

	if c.registry != nil {
		if o, ok := c.registry.Override(field); ok {
			fv, ok := o.Coerce(v)
			if !ok {
				c.logger.Debug("override could not convert value",
					"field", field,
					"target", o.Target.String(),
					"value", v.String(),
				)
			}
			return fv, ok
		}
	}

	return coerceDefault(v)
}

// coerceDefault applies the syntax-based rules.
func coerceDefault(v Value) (FieldValue, bool) {
	switch v.Kind() {
	case KindNull:
		return FieldValue{}, false

	case KindNumber:
		text := v.Text()
		if floatPattern.MatchString(text) {
			f, ok := parseFloat(text)
			if !ok {
				return FieldValue{}, false
			}
			return FloatValue(f), true
		}
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return IntegerValue(i), true
		}
		// Out of int64 range
		if f, ok := parseFloat(text); ok {
			return FloatValue(f), true
		}
		return FieldValue{}, false

	case KindBool:
		return BooleanValue(v.BoolValue()), true

	case KindString:
		s := v.Text()
		if floatPattern.MatchString(s) {
			if f, ok := parseFloat(s); ok {
				return FloatValue(f), true
			}
			return StringValue(s), true
		}
		if integerPattern.MatchString(s) {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return IntegerValue(i), true
			}
			return StringValue(s), true
		}
		return StringValue(s), true

	case KindOther:
		return StringValue(v.String()), true

	default:
		return FieldValue{}, false
	}
}

// parseFloat parses a finite float64.
func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
