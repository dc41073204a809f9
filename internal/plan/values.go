package plan

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Normalizable is implemented by values that need rewriting before they can
// be bound as SQL parameters or embedded into service requests.
type Normalizable interface {
	Normalize() any
}

// StrictDate is a calendar date without time or zone.
type StrictDate struct {
	time.Time
}

func (d StrictDate) Normalize() any { return d.Format(time.DateOnly) }

func (d StrictDate) String() string { return d.Format(time.DateOnly) }

func (d StrictDate) Equal(o StrictDate) bool { return d.Time.Equal(o.Time) }

// DateTime is an instant rendered in UTC.
type DateTime struct {
	time.Time
}

func (d DateTime) Normalize() any { return d.UTC().Format(time.RFC3339Nano) }

func (d DateTime) Equal(o DateTime) bool { return d.Time.Equal(o.Time) }

// EnumValue is a reference to a member of a model enumeration.
type EnumValue struct {
	Enumeration string
	Value       string
}

func (e EnumValue) Normalize() any { return e.Value }

// Normalize applies Normalizable recursively to v, including list elements.
func Normalize(v any) any {
	switch vv := v.(type) {
	case Normalizable:
		return vv.Normalize()
	case []any:
		out := make([]any, len(vv))
		for i, it := range vv {
			out[i] = Normalize(it)
		}
		return out
	default:
		return v
	}
}

// typedConstant converts a literal decoded from a plan into the declared
// logical type, when the type is one that needs a dedicated representation.
func typedConstant(typ string, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch typ {
	case "StrictDate":
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, err
		}
		return StrictDate{t}, nil
	case "DateTime":
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return DateTime{t}, nil
	case "Decimal":
		d, _, err := apd.NewFromString(s)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return v, nil
}
