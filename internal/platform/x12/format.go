package x12

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatAmount renders a monetary amount with exactly two decimals and no
// currency symbol: 150 -> "150.00", 75.5 -> "75.50".
func FormatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FormatDate converts an ISO date (YYYY-MM-DD) to the X12 D8 form by
// stripping dashes. Values already in CCYYMMDD pass through unchanged.
func FormatDate(isoDate string) string {
	return strings.ReplaceAll(strings.TrimSpace(isoDate), "-", "")
}

// PadRight left-aligns s in a field of width characters, padding with spaces
// and truncating when s is longer.
func PadRight(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

// PadNumber right-aligns n in a zero-padded field of width digits. Values
// wider than the field keep their low-order digits.
func PadNumber(n, width int) string {
	if n < 0 {
		n = -n
	}
	s := strconv.Itoa(n)
	if len(s) > width {
		return s[len(s)-width:]
	}
	return strings.Repeat("0", width-len(s)) + s
}

// centuryPivot splits two-digit years: below it is 20xx, at or above 19xx.
const centuryPivot = 50

// ParseDate parses an X12 date in CCYYMMDD or YYMMDD form.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch len(s) {
	case 8:
		return time.Parse("20060102", s)
	case 6:
		yy, err := strconv.Atoi(s[:2])
		if err != nil {
			return time.Time{}, fmt.Errorf("x12: invalid date %q: %w", s, err)
		}
		century := 2000
		if yy >= centuryPivot {
			century = 1900
		}
		return time.Parse("20060102", strconv.Itoa(century+yy)+s[2:])
	default:
		return time.Time{}, fmt.Errorf("x12: unrecognized date format %q", s)
	}
}

// parseAmount reads a decimal element, treating empty or malformed values as
// zero the way payers expect optional amounts to read.
func parseAmount(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return v
}

// parseDatePtr returns nil instead of an error for absent or malformed dates.
func parseDatePtr(s string) *time.Time {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return nil
	}
	return &t
}
