// Package hal defines the narrow hardware ports the control engine consumes:
// sensors, actuators and wall-clock time. Concrete boards live in subpackages.
package hal

import (
	"encoding/json"
	"math"
	"strconv"
)

// Reading is a single sensor value that may be unknown.
// The zero value is Unknown.
type Reading struct {
	value float64
	known bool
}

// Unknown is the sentinel for a reading that could not be taken.
var Unknown = Reading{}

// Known wraps a measured value. NaN and Inf are treated as unknown.
func Known(v float64) Reading {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unknown
	}
	return Reading{value: v, known: true}
}

// Get returns the value and whether it is known.
func (r Reading) Get() (float64, bool) {
	return r.value, r.known
}

// IsKnown reports whether the reading holds a value.
func (r Reading) IsKnown() bool {
	return r.known
}

// Or returns the value, or def when unknown.
func (r Reading) Or(def float64) float64 {
	if !r.known {
		return def
	}
	return r.value
}

func (r Reading) String() string {
	if !r.known {
		return "unknown"
	}
	return strconv.FormatFloat(r.value, 'f', 2, 64)
}

// MarshalJSON encodes unknown readings as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.known {
		return []byte("null"), nil
	}
	return json.Marshal(r.value)
}

// UnmarshalJSON decodes null as Unknown.
func (r *Reading) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Unknown
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Known(v)
	return nil
}
