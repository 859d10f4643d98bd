package decode

import (
	"math"
	"strconv"
	"strings"
)

type Kind int

const (
	KindNumber Kind = iota
	KindLabel
	KindLabels
)

// Value is one decoded signal. OutOfRange marks a result outside the
// signal's declared min/max; it is reported, never clamped.
type Value struct {
	Kind       Kind
	Number     float64
	Label      string
	Labels     []string
	Raw        int64
	Unit       string
	OutOfRange bool
}

func NumberValue(f float64) Value  { return Value{Kind: KindNumber, Number: f} }
func LabelValue(s string) Value    { return Value{Kind: KindLabel, Label: s} }
func LabelsValue(s []string) Value { return Value{Kind: KindLabels, Labels: s} }

func (v Value) String() string {
	var s string
	switch v.Kind {
	case KindLabel:
		s = v.Label
	case KindLabels:
		s = "[" + strings.Join(v.Labels, ", ") + "]"
	default:
		s = strconv.FormatFloat(v.Number, 'f', -1, 64)
		if v.Unit != "" {
			s += " " + v.Unit
		}
	}
	if v.OutOfRange {
		s += " (out of range)"
	}
	return s
}

// Interface returns the value as plain data for YAML and JSON: an int64
// for integral numbers, float64, string or []string.
func (v Value) Interface() any {
	switch v.Kind {
	case KindLabel:
		return v.Label
	case KindLabels:
		out := make([]string, len(v.Labels))
		copy(out, v.Labels)
		return out
	default:
		if v.Number == math.Trunc(v.Number) && math.Abs(v.Number) < 1<<53 {
			return int64(v.Number)
		}
		return v.Number
	}
}

// Equal compares decoded content, ignoring unit, raw and range flag.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindLabel:
		return v.Label == o.Label
	case KindLabels:
		if len(v.Labels) != len(o.Labels) {
			return false
		}
		for i := range v.Labels {
			if v.Labels[i] != o.Labels[i] {
				return false
			}
		}
		return true
	default:
		return v.Number == o.Number
	}
}

// ValueOf converts YAML/JSON decoded data back into a Value.
func ValueOf(x any) (Value, bool) {
	switch t := x.(type) {
	case int:
		return NumberValue(float64(t)), true
	case int64:
		return NumberValue(float64(t)), true
	case uint64:
		return NumberValue(float64(t)), true
	case float64:
		return NumberValue(t), true
	case bool:
		return Value{}, false
	case string:
		return LabelValue(t), true
	case []string:
		return LabelsValue(append([]string(nil), t...)), true
	case []any:
		labels := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return Value{}, false
			}
			labels = append(labels, s)
		}
		return LabelsValue(labels), true
	default:
		return Value{}, false
	}
}

// SignalValue ties a decoded value to its signal and the response message
// it came from.
type SignalValue struct {
	Signal  string
	Command string
	Header  string
	Value   Value
}

// Values keeps decoded signals in command then signal declaration order.
type Values []SignalValue

func (vs Values) Get(id string) (Value, bool) {
	for _, sv := range vs {
		if sv.Signal == id {
			return sv.Value, true
		}
	}
	return Value{}, false
}

// Map returns the first value decoded for each signal.
func (vs Values) Map() map[string]Value {
	out := make(map[string]Value, len(vs))
	for _, sv := range vs {
		if _, ok := out[sv.Signal]; !ok {
			out[sv.Signal] = sv.Value
		}
	}
	return out
}
