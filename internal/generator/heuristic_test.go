package generator

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
)

const photosynthesis = `Photosynthesis converts light energy into chemical energy inside plant cells.
Chlorophyll absorbs light mostly in the blue and red wavelengths of the spectrum.
The chloroplast is the organelle where photosynthesis takes place in plant cells.
Carbon dioxide enters the leaf through small pores called stomata on the surface.
Glucose produced by photosynthesis stores chemical energy for the plant to use later.
Oxygen is released as a byproduct when water molecules are split during the light reactions.`

func generate(t *testing.T, text string, params domain.GenerationParams) []domain.QuestionItem {
	t.Helper()
	items, err := Heuristic{}.Generate(context.Background(), app.GenerationRequest{
		JobID:   "job-1",
		Subject: "Biology",
		Text:    text,
		Params:  params,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return items
}

func TestHeuristicProducesValidItems(t *testing.T) {
	items := generate(t, photosynthesis, domain.GenerationParams{NumMCQ: 3, NumDescriptive: 2, MCQMarks: 2, DescriptiveMarks: 10})

	var mcq, desc int
	for _, item := range items {
		if !item.Valid() {
			t.Fatalf("invalid item generated: %+v", item)
		}
		switch item.Kind {
		case domain.KindMCQ:
			mcq++
			if !strings.Contains(item.Text, blank) {
				t.Fatalf("expected a blank in %q", item.Text)
			}
		case domain.KindDescriptive:
			desc++
		}
	}
	if mcq == 0 || mcq > 3 || desc == 0 || desc > 2 {
		t.Fatalf("unexpected mix: %d mcq, %d descriptive", mcq, desc)
	}
}

func TestHeuristicIsDeterministic(t *testing.T) {
	params := domain.DefaultGenerationParams()
	a := generate(t, photosynthesis, params)
	b := generate(t, photosynthesis, params)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestHeuristicRejectsTinyInput(t *testing.T) {
	_, err := Heuristic{}.Generate(context.Background(), app.GenerationRequest{
		JobID:  "job-1",
		Text:   "Too short.",
		Params: domain.DefaultGenerationParams(),
	})
	if !errors.Is(err, ErrNotEnoughContent) {
		t.Fatalf("expected not enough content, got %v", err)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One two three four five. Short one! Six seven eight nine ten?  Trailing words without a stop here")
	want := []string{
		"One two three four five.",
		"Six seven eight nine ten?",
		"Trailing words without a stop here",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitSentences = %q", got)
	}
}

func TestExtractorText(t *testing.T) {
	text, err := Extractor{}.Extract(context.Background(), domain.SourceText, []byte("plain words"))
	if err != nil || text != "plain words" {
		t.Fatalf("Extract = %q, %v", text, err)
	}
}

func TestExtractorRejectsGarbagePDF(t *testing.T) {
	if _, err := (Extractor{}).Extract(context.Background(), domain.SourcePDF, []byte("not a pdf")); err == nil {
		t.Fatalf("expected an error for a malformed PDF")
	}
}

func TestTruncateWords(t *testing.T) {
	if got := truncateWords("a b  c d", 2); got != "a b" {
		t.Fatalf("truncateWords = %q", got)
	}
}
