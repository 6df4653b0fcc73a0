package logic

import (
	"math"
	"strings"

	"github.com/patrickwarner/adselect/internal/models"
)

// keywordBase keeps the score positive for entries with no keyword overlap.
const keywordBase = 1.1

// KeywordSet is a normalised set of search keywords.
type KeywordSet map[string]struct{}

func normalizeKeyword(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

// NewKeywordSet trims and lower-cases the words, dropping empty ones.
func NewKeywordSet(words []string) KeywordSet {
	set := make(KeywordSet, len(words))
	for _, w := range words {
		if w = normalizeKeyword(w); w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// Overlap counts the distinct entry keywords present in the set.
func (k KeywordSet) Overlap(words []string) int {
	if len(k) == 0 || len(words) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	n := 0
	for _, w := range words {
		w = normalizeKeyword(w)
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := k[w]; ok {
			n++
		}
	}
	return n
}

// Score is bid * ln(1.1 + overlap).
func Score(entry models.AdEntry, keywords KeywordSet) float64 {
	return entry.Bid * math.Log(keywordBase+float64(keywords.Overlap(entry.Keywords)))
}

// ScoreFunc binds a keyword set for use with GroupByValue and Order.
func ScoreFunc(keywords KeywordSet) func(models.AdEntry) float64 {
	return func(e models.AdEntry) float64 {
		return Score(e, keywords)
	}
}
