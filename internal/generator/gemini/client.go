// Package gemini generates question pools with Google's Gemini models.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"qmaster-service/internal/app"
	"qmaster-service/internal/domain"
	"qmaster-service/internal/generator/gemini/prompts"
)

const provider = "gemini"

// Error codes carried by ProviderError.
const (
	ErrCodeAPIKey       = "invalid_api_key"
	ErrCodeServiceDown  = "service_unavailable"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeBadResponse  = "bad_response"
)

// ProviderError is a failure talking to, or understanding, the model.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Provider + " error: " + e.Message + " (" + e.Err.Error() + ")"
	}
	return e.Provider + " error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Config selects the model and credentials.
type Config struct {
	APIKey string
	Model  string
}

type completeFunc func(ctx context.Context, prompt string) (string, error)

// Generator implements app.Generator on top of a Gemini model.
type Generator struct {
	model    string
	complete completeFunc
	prompts  *prompts.Manager
	logger   *zap.Logger
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, &ProviderError{Provider: provider, Code: ErrCodeAPIKey, Message: "GEMINI_API_KEY is required"}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ProviderError{Provider: provider, Code: ErrCodeAPIKey, Message: "failed to create client", Err: err}
	}
	complete := func(ctx context.Context, prompt string) (string, error) {
		result, err := client.Models.GenerateContent(ctx, cfg.Model, genai.Text(prompt), nil)
		if err != nil {
			return "", &ProviderError{Provider: provider, Code: ErrCodeServiceDown, Message: "failed to generate questions", Err: err}
		}
		if result == nil {
			return "", &ProviderError{Provider: provider, Code: ErrCodeInvalidInput, Message: "no response generated"}
		}
		text, err := result.Text()
		if err != nil {
			return "", &ProviderError{Provider: provider, Code: ErrCodeInvalidInput, Message: "failed to extract response text", Err: err}
		}
		return text, nil
	}
	return newGenerator(cfg.Model, complete, logger)
}

func newGenerator(model string, complete completeFunc, logger *zap.Logger) (*Generator, error) {
	pm, err := prompts.NewManager()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, complete: complete, prompts: pm, logger: logger}, nil
}

// Generate asks the model for the requested mix and retries once with a stricter prompt when
// the first reply is not parseable.
func (g *Generator) Generate(ctx context.Context, req app.GenerationRequest) ([]domain.QuestionItem, error) {
	data := map[string]string{
		"Subject":        req.Subject,
		"Text":           req.Text,
		"NumMCQ":         strconv.Itoa(req.Params.NumMCQ),
		"NumDescriptive": strconv.Itoa(req.Params.NumDescriptive),
	}
	var lastErr error
	for _, variant := range []string{"default", "retry"} {
		prompt, err := g.prompts.Build("questions", variant, data)
		if err != nil {
			return nil, err
		}
		raw, err := g.complete(ctx, prompt)
		if err != nil {
			return nil, err
		}
		items, err := parseItems(raw)
		if err == nil {
			g.logger.Info("questions generated",
				zap.String("job_id", req.JobID),
				zap.String("model", g.model),
				zap.String("variant", variant),
				zap.Int("items", len(items)),
			)
			return trim(items, req.Params), nil
		}
		lastErr = err
		g.logger.Warn("unparseable model reply", zap.String("job_id", req.JobID), zap.String("variant", variant), zap.Error(err))
	}
	return nil, lastErr
}

type reply struct {
	MCQs []struct {
		Question   string   `json:"question"`
		Options    []string `json:"options"`
		Answer     string   `json:"answer"`
		Context    string   `json:"context"`
		Difficulty string   `json:"difficulty"`
	} `json:"mcqs"`
	Descriptive []struct {
		Question   string `json:"question"`
		Answer     string `json:"answer"`
		Context    string `json:"context"`
		Difficulty string `json:"difficulty"`
	} `json:"descriptive"`
}

// parseItems decodes the model's JSON reply, tolerating markdown fences and surrounding prose.
func parseItems(raw string) ([]domain.QuestionItem, error) {
	body := strings.TrimSpace(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	} else {
		return nil, &ProviderError{Provider: provider, Code: ErrCodeBadResponse, Message: "reply contains no JSON object"}
	}
	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, &ProviderError{Provider: provider, Code: ErrCodeBadResponse, Message: "reply is not valid JSON", Err: err}
	}

	items := make([]domain.QuestionItem, 0, len(r.MCQs)+len(r.Descriptive))
	for _, q := range r.MCQs {
		items = append(items, domain.QuestionItem{
			Kind:          domain.KindMCQ,
			Text:          strings.TrimSpace(q.Question),
			Options:       q.Options,
			CorrectAnswer: strings.TrimSpace(q.Answer),
			Context:       q.Context,
			Difficulty:    q.Difficulty,
		})
	}
	for _, q := range r.Descriptive {
		items = append(items, domain.QuestionItem{
			Kind:          domain.KindDescriptive,
			Text:          strings.TrimSpace(q.Question),
			CorrectAnswer: strings.TrimSpace(q.Answer),
			Context:       q.Context,
			Difficulty:    q.Difficulty,
		})
	}
	if len(items) == 0 {
		return nil, &ProviderError{Provider: provider, Code: ErrCodeBadResponse, Message: "reply contains no questions"}
	}
	return items, nil
}

// trim drops anything beyond the requested counts per kind.
func trim(items []domain.QuestionItem, params domain.GenerationParams) []domain.QuestionItem {
	limit := map[domain.QuestionKind]int{
		domain.KindMCQ:         params.NumMCQ,
		domain.KindDescriptive: params.NumDescriptive,
	}
	out := items[:0]
	for _, item := range items {
		if limit[item.Kind] > 0 {
			limit[item.Kind]--
			out = append(out, item)
		}
	}
	return out
}

// IsProviderError reports whether err came from the model provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

var _ app.Generator = (*Generator)(nil)

func (g *Generator) String() string {
	return fmt.Sprintf("%s(%s)", provider, g.model)
}
