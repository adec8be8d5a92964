package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a metadata value: either a string or a finite number.
// The zero Value is the empty string.
type Value struct {
	str   string
	num   float64
	isNum bool
}

// String returns a string Value.
func String(s string) Value { return Value{str: s} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{num: f, isNum: true} }

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.isNum }

// Float returns the numeric value and whether v holds a number.
func (v Value) Float() (float64, bool) { return v.num, v.isNum }

// String renders v as text. Numbers use the shortest representation.
func (v Value) String() string {
	if v.isNum {
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	}
	return v.str
}

// MarshalJSON encodes v as a bare JSON string or number.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isNum {
		return json.Marshal(v.num)
	}
	return json.Marshal(v.str)
}

// UnmarshalJSON accepts a JSON string or number.
func (v *Value) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*v = Number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("metadata value: want string or number, got %s", data)
	}
	*v = String(s)
	return nil
}

// Metadata is a string-keyed map of string or number values.
type Metadata map[string]Value

// Sanitize returns a copy of md without empty keys or non-finite numbers.
// The second return value counts the entries that were dropped.
// A nil or empty input yields an empty, non-nil map.
func Sanitize(md Metadata) (Metadata, int) {
	out := make(Metadata, len(md))
	dropped := 0
	for k, v := range md {
		if k == "" {
			dropped++
			continue
		}
		if f, ok := v.Float(); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			dropped++
			continue
		}
		out[k] = v
	}
	return out, dropped
}

// Clone returns a shallow copy of md. Values are immutable so this is a full copy.
func (md Metadata) Clone() Metadata {
	if md == nil {
		return nil
	}
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
