// Package match resolves which groups a user belongs to, by geographic
// proximity first and fuzzy location-text matching second, cascading the
// assignment to every ancestor of the matched hub.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopSuffixes lists administrative suffixes stripped during location
// normalization so "Springfield County" and "springfield" compare equal.
var stopSuffixes = []string{
	" county", " parish", " borough", " township",
	" municipality", " district", " city", " town",
	" village", " region", " area", " hub",
}

var (
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9 ]+`)
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)

	// NFD + strip combining marks + NFC folds accented characters to ASCII.
	stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// NormalizeLocation standardizes a free-text location or group name for
// similarity comparison by:
//  1. Trimming and lowercasing
//  2. Folding diacritics to their base characters
//  3. Removing administrative suffixes (county, township, etc.)
//  4. Stripping non-alphanumerics
//  5. Collapsing runs of spaces
func NormalizeLocation(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}

	for _, suffix := range stopSuffixes {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}

	s = nonAlnumRe.ReplaceAllString(s, " ")
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SplitCandidates splits a free-text location on commas and normalizes
// each part, dropping empties and duplicates. "Springfield, IL, USA"
// yields ["springfield", "il", "usa"].
func SplitCandidates(location string) []string {
	parts := strings.Split(location, ",")
	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		n := NormalizeLocation(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
