package match

import "github.com/agext/levenshtein"

// Similarity returns a character-similarity percentage in [0, 100] between
// two already-normalized strings. Levenshtein-based, so transpositions and
// single-character typos degrade the score gradually.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.Similarity(a, b, nil) * 100
}
