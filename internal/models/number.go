package models

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Float decodes provider numbers leniently. Providers send numbers, numeric
// strings, nulls and the occasional "NaN"; anything that is not a finite
// number becomes 0 rather than failing the whole payload.
type Float float64

func (f *Float) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		*f = 0
		return nil
	}

	*f = Float(ToFloat(raw))
	return nil
}

func (f Float) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(f))
}

// Value returns the decoded number
func (f Float) Value() float64 {
	return float64(f)
}

// ToFloat coerces an arbitrary decoded value to a finite float, 0 on failure
func ToFloat(v interface{}) float64 {
	var out float64
	switch t := v.(type) {
	case float64:
		out = t
	case float32:
		out = float64(t)
	case int:
		out = float64(t)
	case int64:
		out = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		out = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		out = parsed
	case bool:
		if t {
			out = 1
		}
	default:
		return 0
	}
	return Finite(out)
}

// Finite replaces NaN and infinities with 0
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
