package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/buildra/planchat/internal/llm"
	"github.com/buildra/planchat/internal/storage"
)

// fakeTurnStore keeps turns newest-first, mirroring the query order of the
// real store.
type fakeTurnStore struct {
	mu      sync.Mutex
	turns   []storage.ConversationTurn
	saveErr error
}

func (f *fakeTurnStore) SaveTurn(t storage.ConversationTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.turns = append([]storage.ConversationTurn{t}, f.turns...)
	return nil
}

func (f *fakeTurnStore) RecentTurns(_, _ string, limit int) ([]storage.ConversationTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := min(limit, len(f.turns))
	out := make([]storage.ConversationTurn, n)
	for i := range n {
		out[n-1-i] = f.turns[i]
	}
	return out, nil
}

func (f *fakeTurnStore) OlderTurns(_, _ string, skip, limit int) ([]storage.ConversationTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if skip >= len(f.turns) {
		return nil, nil
	}
	rest := f.turns[skip:]
	if len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]storage.ConversationTurn, len(rest))
	copy(out, rest)
	return out, nil
}

func (f *fakeTurnStore) CountTurns(_, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns), nil
}

func (f *fakeTurnStore) UpdateTurnSummary(id, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.turns {
		if f.turns[i].ID == id {
			f.turns[i].Summary = summary
			return nil
		}
	}
	return storage.ErrNotFound
}

type fakeSummarizer struct {
	content string
	err     error
	calls   int
}

func (f *fakeSummarizer) Generate(_ context.Context, _ llm.GenerateRequest) (llm.GenerateResponse, error) {
	f.calls++
	if f.err != nil {
		return llm.GenerateResponse{}, f.err
	}
	return llm.GenerateResponse{Content: f.content}, nil
}

func seedTurns(store *fakeTurnStore, n int) {
	for i := range n {
		store.SaveTurn(storage.ConversationTurn{
			ID:               fmt.Sprintf("turn-%d", i),
			PlanID:           "plan-1",
			UserID:           "user-1",
			UserMessage:      fmt.Sprintf("question %d", i),
			AssistantMessage: fmt.Sprintf("answer %d", i),
		})
	}
}

func TestRecordAndFlush(t *testing.T) {
	store := &fakeTurnStore{}
	r := NewRecorder(store, nil, "", 4)

	r.Record(storage.ConversationTurn{ID: "turn-1", PlanID: "plan-1", UserID: "user-1"})
	r.Flush()

	n, _ := store.CountTurns("plan-1", "user-1")
	if n != 1 {
		t.Errorf("turns stored = %d, want 1", n)
	}
}

func TestRecordSwallowsStorageErrors(t *testing.T) {
	store := &fakeTurnStore{saveErr: errors.New("disk full")}
	r := NewRecorder(store, nil, "", 4)

	// Must not panic or block.
	r.Record(storage.ConversationTurn{ID: "turn-1"})
	r.Flush()
}

func TestRecentContextWithinWindow(t *testing.T) {
	store := &fakeTurnStore{}
	seedTurns(store, 3)
	r := NewRecorder(store, nil, "", 4)

	got := r.RecentContext(context.Background(), "plan-1", "user-1")
	if len(got.Turns) != 3 {
		t.Fatalf("len(Turns) = %d, want 3", len(got.Turns))
	}
	if got.Turns[0].ID != "turn-0" || got.Turns[2].ID != "turn-2" {
		t.Errorf("turns not chronological: %+v", got.Turns)
	}
	if got.CompressedSummary != "" {
		t.Errorf("CompressedSummary = %q, want empty within window", got.CompressedSummary)
	}
}

func TestRecentContextCompressesOlderTurns(t *testing.T) {
	store := &fakeTurnStore{}
	seedTurns(store, 6)
	gen := &fakeSummarizer{content: "Discussed 1,240 LF of copper pipe."}
	r := NewRecorder(store, gen, "test-model", 4)

	got := r.RecentContext(context.Background(), "plan-1", "user-1")
	if len(got.Turns) != 4 {
		t.Fatalf("len(Turns) = %d, want window of 4", len(got.Turns))
	}
	if got.Turns[0].ID != "turn-2" {
		t.Errorf("window starts at %s, want turn-2", got.Turns[0].ID)
	}
	if got.CompressedSummary != "Discussed 1,240 LF of copper pipe." {
		t.Errorf("CompressedSummary = %q", got.CompressedSummary)
	}
	if gen.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1", gen.calls)
	}

	// Second call reuses the cached summary on the newest older turn.
	got = r.RecentContext(context.Background(), "plan-1", "user-1")
	if got.CompressedSummary != "Discussed 1,240 LF of copper pipe." {
		t.Errorf("cached summary = %q", got.CompressedSummary)
	}
	if gen.calls != 1 {
		t.Errorf("summarizer calls after cache = %d, want 1", gen.calls)
	}
}

func TestCompressFallsBackToTruncation(t *testing.T) {
	store := &fakeTurnStore{}
	seedTurns(store, 6)
	gen := &fakeSummarizer{err: errors.New("model down")}
	r := NewRecorder(store, gen, "test-model", 4)

	got := r.RecentContext(context.Background(), "plan-1", "user-1")
	if got.CompressedSummary == "" {
		t.Fatal("expected truncation fallback summary")
	}
	// Oldest turn comes first in the fallback transcript.
	if !strings.HasPrefix(got.CompressedSummary, "User: question 0") {
		t.Errorf("fallback = %q", got.CompressedSummary)
	}
}

func TestTruncateFallback(t *testing.T) {
	short := "User: hi\nAssistant: hello"
	if got := truncateFallback(short); got != short {
		t.Errorf("short input changed: %q", got)
	}

	long := strings.Repeat("word ", 400)
	got := truncateFallback(long)
	if len(got) > maxFallbackChars+4 {
		t.Errorf("len = %d, want <= %d plus ellipsis", len(got), maxFallbackChars+4)
	}
	// Cut lands on a whitespace boundary, never mid-word.
	if !strings.HasSuffix(got, "word …") {
		t.Errorf("fallback should end on a word boundary with ellipsis: %q", got[len(got)-12:])
	}
}
