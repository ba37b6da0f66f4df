package listings

import (
	"strconv"
	"strings"
)

// cleanPrice drops everything that is not a digit or a dot
func cleanPrice(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParsePrice reads a price string such as "$1,250.00" as a number.
// Anything unparseable counts as 0. Only the leading number is read, so
// "1.2.3" is 1.2
func ParsePrice(s string) float64 {
	cleaned := cleanPrice(s)

	end := len(cleaned)
	if first := strings.IndexByte(cleaned, '.'); first != -1 {
		if second := strings.IndexByte(cleaned[first+1:], '.'); second != -1 {
			end = first + 1 + second
		}
	}

	v, err := strconv.ParseFloat(cleaned[:end], 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatPrice normalizes a price for display as $<number>.
// Formatting an already formatted price returns it unchanged
func FormatPrice(s string) string {
	cleaned := cleanPrice(s)
	if cleaned == "" {
		return "$0"
	}
	return "$" + cleaned
}
