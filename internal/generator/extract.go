package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"qmaster-service/internal/domain"
)

// ErrNoReadableText is returned when a payload yields no text at all.
var ErrNoReadableText = errors.New("no readable text found in the PDF")

// Extractor turns uploaded payloads into plain text. PDF text is cut to MaxWords words.
type Extractor struct {
	MaxWords int
}

func (e Extractor) Extract(_ context.Context, kind domain.SourceKind, payload []byte) (string, error) {
	switch kind {
	case domain.SourceText:
		return string(payload), nil
	case domain.SourcePDF:
		text, err := pdfText(payload)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" {
			return "", ErrNoReadableText
		}
		return truncateWords(text, e.MaxWords), nil
	default:
		return "", fmt.Errorf("unsupported source kind %q", kind)
	}
}

func pdfText(payload []byte) (text string, err error) {
	// The reader panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to process PDF: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", fmt.Errorf("failed to process PDF: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to process PDF: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to process PDF: %w", err)
	}
	return buf.String(), nil
}

func truncateWords(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= limit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:limit], " ")
}
