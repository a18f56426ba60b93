// Package normalization maps provider payloads to canonical records.
// Every function here is pure.
package normalization

import (
	"fmt"
	"strings"
	"time"
)

// CanonicalLayout is the persisted timestamp form, always in UTC.
const CanonicalLayout = "2006-01-02T15:04:05-0700"

// Accepted input layouts. Fractional seconds are accepted by time.Parse
// after the seconds field even though the layouts omit them.
var inputLayouts = []string{
	time.RFC3339,          // 2023-06-19T02:22:58Z, 2023-06-19T02:22:58.1+02:00
	CanonicalLayout,       // 2023-06-19T02:22:58+0000
	"2006-01-02T15:04:05", // zone-less, read as UTC
	"2006-01-02 15:04:05",
}

// CanonicalTimestamp converts a provider timestamp to CanonicalLayout.
// Zone-less inputs are read as UTC and fractional seconds are dropped.
func CanonicalTimestamp(raw string) (string, error) {
	t, err := ParseTimestamp(raw)
	if err != nil {
		return "", err
	}
	return t.Format(CanonicalLayout), nil
}

// ParseTimestamp parses any accepted layout and returns the UTC instant
// truncated to whole seconds.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
