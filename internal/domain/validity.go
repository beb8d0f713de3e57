package domain

import "strings"

// validators holds the kind-specific validity rule for each question variant.
var validators = map[QuestionKind]func(QuestionItem) bool{
	KindMCQ:         validMCQ,
	KindDescriptive: validDescriptive,
}

// Valid reports whether the item may be counted and drawn. Items of an unknown kind are never valid.
func (q QuestionItem) Valid() bool {
	if q.Invalidated {
		return false
	}
	check, ok := validators[q.Kind]
	if !ok {
		return false
	}
	return check(q)
}

// validMCQ requires at least two distinct non-empty options with the answer among them.
func validMCQ(q QuestionItem) bool {
	answer := strings.TrimSpace(q.CorrectAnswer)
	if answer == "" {
		return false
	}
	distinct := make(map[string]struct{}, len(q.Options))
	answerListed := false
	for _, opt := range q.Options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		distinct[opt] = struct{}{}
		if opt == answer {
			answerListed = true
		}
	}
	return len(distinct) >= 2 && answerListed
}

func validDescriptive(q QuestionItem) bool {
	return strings.TrimSpace(q.Text) != "" && strings.TrimSpace(q.CorrectAnswer) != ""
}

// ValidKind reports whether kind is a known question variant.
func ValidKind(kind QuestionKind) bool {
	_, ok := validators[kind]
	return ok
}
