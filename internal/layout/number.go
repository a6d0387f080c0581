package layout

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number accepts a JSON number or a numeric string, as dashboard forms send
// both. Anything else that is present decodes to NaN so the store rejects it.
type Number struct {
	Set   bool
	Value float64
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	n.Set = true
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		n.Value = f
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			n.Value = v
			return nil
		}
	}
	n.Value = math.NaN()
	return nil
}

// Float returns the value, or NaN when absent.
func (n Number) Float() float64 {
	if !n.Set {
		return math.NaN()
	}
	return n.Value
}
