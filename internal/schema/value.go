package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags the primitive held by a Value.
type Kind string

const (
	KindNull   Kind = ""
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindDate   Kind = "date"
	KindBool   Kind = "bool"
)

// DateLayout is the canonical date encoding.
const DateLayout = "2006-01-02"

// Value is a validated, type-narrowed field value.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Time time.Time
	Bool bool
}

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Date(t time.Time) Value { return Value{Kind: KindDate, Time: t} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// IsEmpty reports whether the value carries nothing a required field can accept.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case KindString:
		return strings.TrimSpace(v.Str) == ""
	case KindDate:
		return v.Time.IsZero()
	case KindNumber, KindBool:
		return false
	default:
		return true
	}
}

// Interface returns the plain Go value: string, float64, bool, the canonical
// date string, or nil.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindDate:
		return v.Time.Format(DateLayout)
	case KindBool:
		return v.Bool
	default:
		return nil
	}
}

// String renders the value for prompts and summaries.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindDate:
		return v.Time.Format(DateLayout)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return ""
	}
}

type wireValue struct {
	Kind  Kind `json:"kind"`
	Value any  `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireValue{Kind: v.Kind, Value: v.Interface()})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w struct {
		Kind  Kind            `json:"kind"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KindNull:
		*v = Value{}
	case KindString:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("decode string value: %w", err)
		}
		*v = String(s)
	case KindNumber:
		var n float64
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return fmt.Errorf("decode number value: %w", err)
		}
		*v = Number(n)
	case KindDate:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("decode date value: %w", err)
		}
		t, err := time.Parse(DateLayout, s)
		if err != nil {
			return fmt.Errorf("decode date value: %w", err)
		}
		*v = Date(t)
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("decode bool value: %w", err)
		}
		*v = Bool(b)
	default:
		return fmt.Errorf("unknown value kind %q", w.Kind)
	}
	return nil
}

// Values is a collected payload keyed by field name.
type Values map[string]Value

// Plain converts the payload to a map of plain Go values.
func (vs Values) Plain() map[string]any {
	out := make(map[string]any, len(vs))
	for k, v := range vs {
		out[k] = v.Interface()
	}
	return out
}

// Has reports whether name holds a non-empty value.
func (vs Values) Has(name string) bool {
	v, ok := vs[name]
	return ok && !v.IsEmpty()
}
