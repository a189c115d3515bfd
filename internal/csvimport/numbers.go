package csvimport

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
	leadingInt   = regexp.MustCompile(`^[+-]?\d+`)
)

// parseLeadingFloat reads the longest numeric prefix, the way spreadsheet
// exports are usually consumed: "12.50 USD" is 12.5, "abc" is invalid.
func parseLeadingFloat(s string) (float64, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	match := leadingFloat.FindString(s)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseLeadingInt reads the integer prefix: "5.7" is 5.
func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	match := leadingInt.FindString(s)
	if match == "" {
		return 0, false
	}
	v, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return v, true
}

func stripThousands(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
