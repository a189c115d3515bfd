package csvimport

import (
	"regexp"
	"strings"
)

// repairMarker forces spreadsheet-mangled numbers to stay text.
const repairMarker = "'"

var (
	scientificField = regexp.MustCompile(`,([0-9.]+E\+[0-9]+),`)
	longDigitField  = regexp.MustCompile(`,(\d{11,}),`)

	scientificToken = regexp.MustCompile(`^[0-9.]+E\+[0-9]+$`)
	longDigitToken  = regexp.MustCompile(`^\d{11,}$`)
)

// RepairNumericFields prefixes comma-bounded scientific-notation values and
// runs of 11 or more digits (UPC/EAN codes) with an apostrophe.
//
// Matches cannot overlap, so two adjacent fields share a comma and only the
// first is caught per pass. Each rewrite therefore runs until nothing changes,
// which also makes the function idempotent.
func RepairNumericFields(raw string) string {
	out := rewriteUntilStable(raw, scientificField)
	return rewriteUntilStable(out, longDigitField)
}

func rewriteUntilStable(s string, re *regexp.Regexp) string {
	for {
		next := re.ReplaceAllString(s, ",'${1},")
		if next == s {
			return s
		}
		s = next
	}
}

// unmark removes a repair marker, leaving legitimate leading apostrophes alone.
func unmark(v string) string {
	if !strings.HasPrefix(v, repairMarker) {
		return v
	}
	rest := strings.TrimPrefix(v, repairMarker)
	if scientificToken.MatchString(rest) || longDigitToken.MatchString(rest) {
		return rest
	}
	return v
}
