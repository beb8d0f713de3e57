package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
)

const fencedReply = "Here you go:\n```json\n" + `{
  "mcqs": [
    {"question": "Which gas do plants absorb?", "options": ["Oxygen", "Carbon dioxide", "Helium", "Neon"], "answer": "Carbon dioxide", "difficulty": "Easy"},
    {"question": "Where does photosynthesis occur?", "options": ["Chloroplast", "Nucleus"], "answer": "Chloroplast", "difficulty": "Medium"},
    {"question": "Extra?", "options": ["a", "b"], "answer": "a"}
  ],
  "descriptive": [
    {"question": "Explain photosynthesis.", "answer": "Plants turn light into chemical energy.", "difficulty": "Medium"}
  ]
}` + "\n```"

func request() app.GenerationRequest {
	return app.GenerationRequest{
		JobID:   "job-1",
		Subject: "Biology",
		Text:    "Plants use light.",
		Params:  domain.GenerationParams{NumMCQ: 2, NumDescriptive: 1, MCQMarks: 2, DescriptiveMarks: 10},
	}
}

func TestGenerateParsesFencedReply(t *testing.T) {
	var prompts []string
	g, err := newGenerator("test-model", func(_ context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return fencedReply, nil
	}, nil)
	if err != nil {
		t.Fatalf("newGenerator: %v", err)
	}

	items, err := g.Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected trimmed to 3 items, got %d", len(items))
	}
	for _, item := range items {
		if !item.Valid() {
			t.Fatalf("invalid item %+v", item)
		}
	}
	if len(prompts) != 1 || !strings.Contains(prompts[0], "Biology") {
		t.Fatalf("unexpected prompts %q", prompts)
	}
}

func TestGenerateRetriesOnceWithStricterPrompt(t *testing.T) {
	calls := 0
	g, _ := newGenerator("test-model", func(_ context.Context, prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "I cannot answer in JSON today", nil
		}
		if !strings.Contains(prompt, "could not be parsed") {
			t.Errorf("second call should use the retry prompt")
		}
		return fencedReply, nil
	}, nil)

	if _, err := g.Generate(context.Background(), request()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestGenerateSurfacesProviderFailure(t *testing.T) {
	g, _ := newGenerator("test-model", func(context.Context, string) (string, error) {
		return "", &ProviderError{Provider: provider, Code: ErrCodeServiceDown, Message: "down", Err: errors.New("503")}
	}, nil)

	_, err := g.Generate(context.Background(), request())
	if !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestParseItemsRejectsEmptyReply(t *testing.T) {
	if _, err := parseItems(`{"mcqs": [], "descriptive": []}`); err == nil {
		t.Fatalf("expected error for reply without questions")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), Config{Model: "m"}, nil); !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}
