package dedup

import (
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Normalize case-folds text, replaces punctuation and symbols with spaces,
// collapses whitespace and trims. Normalize(Normalize(x)) == Normalize(x).
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(unicode.ToLower(r))
			space = false
		case r == '\'' || r == '’':
			// don't -> dont
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Fingerprint is the dedup key of already normalized text
func Fingerprint(normalized string) uint64 {
	return xxhash.Sum64String(normalized)
}

// Tokens returns the token set of normalized text, without stopwords.
// Text made only of stopwords keeps them so it still has a set.
func Tokens(normalized string) map[string]struct{} {
	words := strings.Fields(normalized)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if !stopwords[w] {
			set[w] = struct{}{}
		}
	}
	if len(set) == 0 {
		for _, w := range words {
			set[w] = struct{}{}
		}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// stopwords are dropped before token-set comparison so that short messages
// sharing only filler words are not flagged
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true,
	"i": true, "me": true, "my": true, "you": true, "your": true,
	"we": true, "us": true, "our": true, "it": true, "its": true,
	"this": true, "that": true, "these": true, "those": true,
	"am": true, "is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true,
	"will": true, "would": true, "should": true, "can": true, "could": true,
	"and": true, "or": true, "but": true, "so": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "for": true, "with": true,
	"from": true, "by": true, "about": true, "as": true,
}
