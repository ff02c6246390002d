package eligibility

import (
	"fmt"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

// NormalizeDateOfBirth accepts MM/DD/YYYY or YYYY-MM-DD and returns the ISO
// form the upstream expects.
func NormalizeDateOfBirth(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"01/02/2006", "1/2/2006", isoDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(isoDate), nil
		}
	}
	return "", fmt.Errorf("invalid date %q: expected MM/DD/YYYY or YYYY-MM-DD", s)
}

var displayLayouts = []string{
	isoDate,
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"01-02-2006",
	"2006/01/02",
	"20060102",
}

// FormatUSDate renders a date as MM/DD/YYYY for display. Empty input yields
// "N/A"; unrecognised input is returned unchanged.
func FormatUSDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return "N/A"
	}
	for _, layout := range displayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("01/02/2006")
		}
	}
	return s
}
