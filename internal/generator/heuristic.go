// Package generator holds the text extraction and offline question generation used by upload jobs.
package generator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
	"qmaster-service/internal/similarity"
)

const (
	minSentenceWords = 5
	minKeywordLen    = 4
	maxDistractors   = 3
	duplicateCutoff  = 0.85
	blank            = "_____"
)

// ErrNotEnoughContent is returned when the text has no usable sentences.
var ErrNotEnoughContent = errors.New("content too short to generate questions")

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s+|$)`)

// Heuristic builds cloze-style mcqs and explain-style descriptive questions from the text itself.
// Output is deterministic for a given job and text.
type Heuristic struct{}

func (Heuristic) Generate(ctx context.Context, req app.GenerationRequest) ([]domain.QuestionItem, error) {
	sentences := splitSentences(req.Text)
	if len(sentences) == 0 {
		return nil, ErrNotEnoughContent
	}
	keywords := rankKeywords(sentences)
	if len(keywords) == 0 {
		return nil, ErrNotEnoughContent
	}
	rnd := rand.New(rand.NewSource(seedFor(req.JobID, req.Text)))

	used := make(map[int]bool, len(sentences))
	var items []domain.QuestionItem
	mcqs := 0
	for _, kw := range keywords {
		if mcqs == req.Params.NumMCQ {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, idx, ok := clozeQuestion(kw, keywords, sentences, used, rnd)
		if !ok || isDuplicate(item, items) {
			continue
		}
		used[idx] = true
		items = append(items, item)
		mcqs++
	}

	descriptive := 0
	topics := make(map[string]bool)
	for _, idx := range rankSentences(sentences, keywords) {
		if descriptive == req.Params.NumDescriptive {
			break
		}
		if used[idx] {
			continue
		}
		item, ok := explainQuestion(sentences[idx], keywords, topics, req.Subject)
		if !ok || isDuplicate(item, items) {
			continue
		}
		used[idx] = true
		items = append(items, item)
		descriptive++
	}
	if len(items) == 0 {
		return nil, ErrNotEnoughContent
	}
	return items, nil
}

func seedFor(jobID, text string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(jobID))
	_, _ = h.Write([]byte(text))
	return int64(h.Sum64())
}

func splitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		s := strings.TrimSpace(text[start:loc[1]])
		start = loc[1]
		if len(strings.Fields(s)) >= minSentenceWords {
			out = append(out, s)
		}
	}
	if rest := strings.TrimSpace(text[start:]); len(strings.Fields(rest)) >= minSentenceWords {
		out = append(out, rest)
	}
	return out
}

type keyword struct {
	word  string
	count int
}

// rankKeywords orders content words by frequency, then alphabetically.
func rankKeywords(sentences []string) []keyword {
	counts := make(map[string]int)
	for _, s := range sentences {
		for _, tok := range similarity.Tokens(s) {
			if len([]rune(tok)) < minKeywordLen || isNumeric(tok) {
				continue
			}
			counts[tok]++
		}
	}
	out := make([]keyword, 0, len(counts))
	for w, c := range counts {
		out = append(out, keyword{word: w, count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].word < out[j].word
	})
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func wordPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
}

func clozeQuestion(kw keyword, keywords []keyword, sentences []string, used map[int]bool, rnd *rand.Rand) (domain.QuestionItem, int, bool) {
	pattern := wordPattern(kw.word)
	for idx, s := range sentences {
		if used[idx] {
			continue
		}
		loc := pattern.FindStringIndex(s)
		if loc == nil {
			continue
		}
		answer := s[loc[0]:loc[1]]
		distractors := pickDistractors(kw.word, keywords)
		if len(distractors) == 0 {
			return domain.QuestionItem{}, 0, false
		}
		options := append([]string{answer}, distractors...)
		rnd.Shuffle(len(options), func(i, j int) { options[i], options[j] = options[j], options[i] })
		return domain.QuestionItem{
			Kind:          domain.KindMCQ,
			Text:          s[:loc[0]] + blank + s[loc[1]:],
			Options:       options,
			CorrectAnswer: answer,
			Context:       s,
			Difficulty:    difficulty(answer, distractors),
		}, idx, true
	}
	return domain.QuestionItem{}, 0, false
}

// pickDistractors prefers other keywords of similar length to the answer.
func pickDistractors(answer string, keywords []keyword) []string {
	candidates := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k.word != answer && similarity.Levenshtein(k.word, answer) < 0.8 {
			candidates = append(candidates, k.word)
		}
	}
	target := len([]rune(answer))
	sort.SliceStable(candidates, func(i, j int) bool {
		return abs(len([]rune(candidates[i]))-target) < abs(len([]rune(candidates[j]))-target)
	})
	if len(candidates) > maxDistractors {
		candidates = candidates[:maxDistractors]
	}
	return candidates
}

func difficulty(answer string, distractors []string) string {
	best := 0.0
	for _, d := range distractors {
		best = max(best, similarity.Levenshtein(answer, d))
	}
	switch {
	case best > 0.6:
		return "Difficult"
	case best > 0.4:
		return "Medium"
	default:
		return "Easy"
	}
}

// rankSentences orders sentence indexes by the summed frequency of their keywords.
func rankSentences(sentences []string, keywords []keyword) []int {
	weight := make(map[string]int, len(keywords))
	for _, k := range keywords {
		weight[k.word] = k.count
	}
	scores := make([]int, len(sentences))
	idx := make([]int, len(sentences))
	for i, s := range sentences {
		idx[i] = i
		for _, tok := range similarity.Tokens(s) {
			scores[i] += weight[tok]
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	return idx
}

// explainQuestion asks about the most frequent keyword of sentence not already asked about.
func explainQuestion(sentence string, keywords []keyword, topics map[string]bool, subject string) (domain.QuestionItem, bool) {
	var topic string
	for _, k := range keywords {
		if !topics[k.word] && wordPattern(k.word).MatchString(sentence) {
			topic = k.word
			break
		}
	}
	if topic == "" {
		return domain.QuestionItem{}, false
	}
	topics[topic] = true
	text := fmt.Sprintf("Explain what the material says about %s.", topic)
	if subject != "" {
		text = fmt.Sprintf("In %s, explain what the material says about %s.", subject, topic)
	}
	return domain.QuestionItem{
		Kind:          domain.KindDescriptive,
		Text:          text,
		CorrectAnswer: sentence,
		Context:       sentence,
	}, true
}

// isDuplicate reports whether an item of the same kind was built from a near-identical sentence.
func isDuplicate(candidate domain.QuestionItem, existing []domain.QuestionItem) bool {
	for _, item := range existing {
		if item.Kind == candidate.Kind && similarity.Levenshtein(candidate.Context, item.Context) > duplicateCutoff {
			return true
		}
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
