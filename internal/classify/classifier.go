package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/buildra/planchat/internal/llm"
)

const classificationTimeout = 5 * time.Second

// Generator is the LLM call surface the classifier needs.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error)
}

// Classifier maps a free-text question to a Classification. It prefers a
// structured LLM call and falls back to deterministic keyword heuristics
// on any failure; classification never returns an error.
type Classifier struct {
	client Generator
	model  string
}

// New creates a Classifier. A nil client skips the LLM path entirely and
// classifies heuristically.
func New(client Generator, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify analyses the question and returns a Classification. The result
// is normalized: unknown enum values from the LLM are replaced, targets
// are lowercased and deduplicated.
func (c *Classifier) Classify(ctx context.Context, question string) Classification {
	fallback := Heuristic(question)
	if c.client == nil || strings.TrimSpace(question) == "" {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, classificationTimeout)
	defer cancel()

	resp, err := c.client.Generate(ctx, llm.GenerateRequest{
		Model:     c.model,
		Messages:  BuildPrompt(question, fallback.Pages),
		MaxTokens: 400,
	})
	if err != nil {
		slog.Warn("classification call failed, using heuristic", "error", err)
		return fallback
	}

	parsed, ok := parseClassification(resp.Content)
	if !ok {
		slog.Warn("classification response unparsable, using heuristic", "response", resp.Content)
		return fallback
	}

	return merge(parsed, fallback)
}

// parseClassification extracts a Classification JSON object from raw LLM
// output, tolerating markdown code fences and surrounding prose.
func parseClassification(raw string) (Classification, bool) {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return Classification{}, false
	}

	var out Classification
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return Classification{}, false
	}
	return out, true
}

// merge normalizes an LLM classification, filling invalid or missing
// fields from the heuristic fallback.
func merge(parsed, fallback Classification) Classification {
	out := parsed

	if !validQuestionType(out.QuestionType) {
		out.QuestionType = fallback.QuestionType
	}
	if !validIntent(out.ModificationIntent) {
		out.ModificationIntent = fallback.ModificationIntent
	}
	if len(out.Pages) == 0 {
		out.Pages = fallback.Pages
	}

	out.Targets = normalizeTargets(out.Targets)
	if len(out.Targets) == 0 {
		out.Targets = fallback.Targets
	}

	return out
}

func normalizeTargets(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
