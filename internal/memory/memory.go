package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/buildra/planchat/internal/llm"
	"github.com/buildra/planchat/internal/storage"
)

const (
	// DefaultWindow is how many recent turns are kept verbatim in context.
	DefaultWindow = 4

	// compressionBatch caps how many older turns feed one summary.
	compressionBatch = 20

	// maxFallbackChars bounds the deterministic truncation fallback.
	maxFallbackChars = 1200

	summarizeTimeout = 10 * time.Second
)

// TurnStore is the persistence surface the recorder needs.
// Implemented by storage.Store.
type TurnStore interface {
	SaveTurn(storage.ConversationTurn) error
	RecentTurns(planID, userID string, limit int) ([]storage.ConversationTurn, error)
	OlderTurns(planID, userID string, skip, limit int) ([]storage.ConversationTurn, error)
	CountTurns(planID, userID string) (int, error)
	UpdateTurnSummary(id, summary string) error
}

// Generator is the LLM call surface used for summarization.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error)
}

// Context is what the context builder receives from memory: the recent
// turns verbatim plus a lossy summary of everything older.
type Context struct {
	Turns             []storage.ConversationTurn
	CompressedSummary string
}

// Recorder persists conversation turns and produces bounded recent
// context. Writes are fire-and-forget: Record returns immediately and a
// failed write is logged, never surfaced.
type Recorder struct {
	store  TurnStore
	client Generator
	model  string
	window int

	wg sync.WaitGroup
}

// NewRecorder creates a Recorder. A nil client disables LLM summarization
// (the truncation fallback is used instead). window <= 0 uses the default.
func NewRecorder(store TurnStore, client Generator, model string, window int) *Recorder {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Recorder{store: store, client: client, model: model, window: window}
}

// Record persists a turn on a detached goroutine. Callers return to
// their user before the write lands, and overlapping writers may
// interleave.
func (r *Recorder) Record(turn storage.ConversationTurn) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.store.SaveTurn(turn); err != nil {
			slog.Warn("recording conversation turn failed",
				"plan_id", turn.PlanID, "user_id", turn.UserID, "error", err)
		}
	}()
}

// Flush blocks until all pending Record writes have finished. Used by
// tests and graceful shutdown.
func (r *Recorder) Flush() {
	r.wg.Wait()
}

// RecentContext returns the most recent turns (up to the window) plus a
// compressed summary of older history. It never fails: storage errors
// yield empty context.
func (r *Recorder) RecentContext(ctx context.Context, planID, userID string) Context {
	turns, err := r.store.RecentTurns(planID, userID, r.window)
	if err != nil {
		slog.Warn("loading recent turns failed", "plan_id", planID, "error", err)
		return Context{}
	}

	out := Context{Turns: turns}

	total, err := r.store.CountTurns(planID, userID)
	if err != nil || total <= r.window {
		return out
	}

	out.CompressedSummary = r.compress(ctx, planID, userID)
	return out
}

// compress produces one summary string for turns older than the window.
// The summary is cached on the newest older turn; when absent it is
// computed (LLM first, deterministic truncation on failure) and written
// back update-in-place.
func (r *Recorder) compress(ctx context.Context, planID, userID string) string {
	older, err := r.store.OlderTurns(planID, userID, r.window, compressionBatch)
	if err != nil || len(older) == 0 {
		return ""
	}

	// Newest older turn carries the cached summary for everything before it.
	if older[0].Summary != "" {
		return older[0].Summary
	}

	transcript := transcript(older)
	summary := r.summarize(ctx, transcript)
	if summary == "" {
		summary = truncateFallback(transcript)
	}

	if err := r.store.UpdateTurnSummary(older[0].ID, summary); err != nil {
		slog.Warn("caching compressed summary failed", "turn_id", older[0].ID, "error", err)
	}
	return summary
}

// summarize asks the LLM for a compact summary. Returns "" on any failure
// so the caller falls through to the deterministic fallback.
func (r *Recorder) summarize(ctx context.Context, transcript string) string {
	if r.client == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
	defer cancel()

	resp, err := r.client.Generate(ctx, llm.GenerateRequest{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "system", Content: "Summarize this construction plan conversation in at most five sentences. Keep exact quantities, costs, page numbers, and item names. Output only the summary."},
			{Role: "user", Content: transcript},
		},
		MaxTokens: 300,
	})
	if err != nil {
		slog.Warn("summary generation failed, using truncation fallback", "error", err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

// transcript renders older turns oldest-first for summarization.
func transcript(older []storage.ConversationTurn) string {
	var sb strings.Builder
	for i := len(older) - 1; i >= 0; i-- {
		t := older[i]
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", t.UserMessage, t.AssistantMessage)
	}
	return sb.String()
}

// truncateFallback is the deterministic lossy fallback: keep the head of
// the transcript, cut on a whitespace boundary.
func truncateFallback(transcript string) string {
	s := strings.TrimSpace(transcript)
	if len(s) <= maxFallbackChars {
		return s
	}
	cut := s[:maxFallbackChars]
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return cut + " …"
}
