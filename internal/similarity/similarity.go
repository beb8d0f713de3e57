// Package similarity scores how close two pieces of free text are.
package similarity

import (
	"context"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize trims, applies NFKC, case-folds and collapses whitespace.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits normalized text into words, dropping punctuation and stopwords.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Lexical is a cosine similarity over term-frequency vectors. It is deterministic and needs no
// external service.
type Lexical struct{}

func (Lexical) Similarity(_ context.Context, candidate, reference string) (float64, error) {
	return Cosine(candidate, reference), nil
}

// Cosine returns the cosine of the term-frequency vectors of a and b, in [0, 1].
// Empty input on either side scores 0.
func Cosine(a, b string) float64 {
	va, vb := termFreq(Tokens(a)), termFreq(Tokens(b))
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}
	var dot, na, nb float64
	for term, fa := range va {
		na += fa * fa
		if fb, ok := vb[term]; ok {
			dot += fa * fb
		}
	}
	for _, fb := range vb {
		nb += fb * fb
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Min(1, math.Max(0, sim))
}

func termFreq(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}

// Levenshtein returns 1 - editDistance/maxLen over normalized runes; identical strings score 1.
func Levenshtein(a, b string) float64 {
	ra, rb := []rune(Normalize(a)), []rune(Normalize(b))
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	longest := max(len(ra), len(rb))
	return 1 - float64(prev[len(rb)])/float64(longest)
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "at": {}, "by": {}, "for": {}, "with": {}, "from": {}, "as": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "it": {}, "its": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "which": {}, "what": {}, "who": {}, "how": {}, "into": {}, "than": {},
	"then": {}, "so": {}, "such": {}, "can": {}, "will": {}, "do": {}, "does": {}, "has": {},
	"have": {}, "had": {}, "not": {}, "no": {},
}
