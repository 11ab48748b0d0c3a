// Package classify routes inbound email to an auto-reply category with a
// Gemini model, falling back to keyword matching.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/softaidev/assistant-ledger/internal/templates"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

const (
	defaultModelName = "gemini-1.5-flash-latest"

	systemInstruction = "You triage customer emails for a software consulting company. " +
		"Reply with exactly one word: technical, sales or general. " +
		"technical covers bugs, errors and support problems; sales covers pricing, quotes and new projects; " +
		"everything else is general."

	maxBodyChars = 4000
)

// TextGenerator produces a completion for a single prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GeminiClassifier asks a model for the category and falls back to
// templates.KeywordClassifier when the call fails or the answer is unusable.
type GeminiClassifier struct {
	gen      TextGenerator
	fallback templates.Classifier
	logger   *logging.Logger
}

// NewGeminiClassifier wraps gen. A nil logger uses logging.Default.
func NewGeminiClassifier(gen TextGenerator, logger *logging.Logger) *GeminiClassifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &GeminiClassifier{
		gen:      gen,
		fallback: templates.KeywordClassifier{},
		logger:   logger.Component("classify"),
	}
}

func (c *GeminiClassifier) Classify(ctx context.Context, subject, body string) templates.Category {
	if c == nil || c.gen == nil {
		return templates.KeywordClassifier{}.Classify(ctx, subject, body)
	}
	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	prompt := fmt.Sprintf("Subject: %s\n\n%s", subject, body)
	answer, err := c.gen.GenerateText(ctx, prompt)
	if err != nil {
		c.logger.Warn("gemini classification failed, using keywords", "error", err)
		return c.fallback.Classify(ctx, subject, body)
	}
	if category, ok := parseLabel(answer); ok {
		return category
	}
	c.logger.Warn("gemini returned an unknown label, using keywords", "answer", answer)
	return c.fallback.Classify(ctx, subject, body)
}

func parseLabel(answer string) (templates.Category, bool) {
	word := strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".!\"'`"))
	switch templates.Category(word) {
	case templates.CategoryTechnical, templates.CategorySales, templates.CategoryGeneral:
		return templates.Category(word), true
	}
	return "", false
}

// GeminiGenerator is a TextGenerator backed by the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a Gemini client for apiKey.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("classify: gemini api key required")
	}
	if model == "" {
		model = defaultModelName
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("classify: create genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}
	temp := float32(0)
	maxTokens := int32(5)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("classify: gemini request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("classify: gemini returned no candidates")
	}
	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			out.WriteString(string(txt))
		}
	}
	return out.String(), nil
}

func (g *GeminiGenerator) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
