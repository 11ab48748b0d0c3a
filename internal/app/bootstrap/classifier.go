package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/softaidev/assistant-ledger/internal/classify"
	appconfig "github.com/softaidev/assistant-ledger/internal/config"
	"github.com/softaidev/assistant-ledger/internal/templates"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// BuildClassifier wires the inbound email classifier. Without a Gemini key
// the keyword classifier is used.
func BuildClassifier(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (templates.Classifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		logger.Info("no Gemini key configured; classifying inbound email by keyword")
		return templates.KeywordClassifier{}, nil
	}

	gen, err := classify.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: gemini: %w", err)
	}
	logger.Info("gemini classifier enabled", "model", cfg.GeminiModel)
	return classify.NewGeminiClassifier(gen, logger), nil
}
