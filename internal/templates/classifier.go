package templates

import (
	"context"
	"strings"
)

// Classifier picks the auto-reply category for an inbound email.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) Category
}

var (
	technicalKeywords = []string{"technical", "support", "error", "bug", "issue"}
	salesKeywords     = []string{"pricing", "quote", "sales", "cost", "price"}
)

// KeywordClassifier matches a fixed keyword list. Technical wins over sales.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(_ context.Context, subject, body string) Category {
	text := strings.ToLower(subject + " " + body)
	if containsAny(text, technicalKeywords) {
		return CategoryTechnical
	}
	if containsAny(text, salesKeywords) {
		return CategorySales
	}
	return CategoryGeneral
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
