// Package wire holds JSON helpers shared by provider clients.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Number is a JSON numeric field that providers send either as a quoted
// string, a bare number, or null. Raw keeps the exact textual value.
type Number struct {
	Raw   string
	Valid bool
}

// NewNumber returns a valid Number holding s.
func NewNumber(s string) Number {
	return Number{Raw: s, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = Number{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode numeric string: %w", err)
		}
		s = strings.TrimSpace(s)
		*n = Number{Raw: s, Valid: s != ""}
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("decode number: %w", err)
	}
	*n = Number{Raw: num.String(), Valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Raw)
}
