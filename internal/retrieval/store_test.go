package retrieval

import (
	"testing"

	"github.com/buildra/planchat/internal/storage"
)

func openTestVectorStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSQLiteStore(s.DB())
}

func page(n int) *int { return &n }

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	vs := openTestVectorStore(t)

	records := []Record{
		{ID: "exact", PlanID: "plan-1", PageNumber: page(1), SheetID: "P-101", TextChunk: "copper pipe runs", Embedding: []float32{1, 0}},
		{ID: "close", PlanID: "plan-1", PageNumber: page(2), TextChunk: "pipe hangers", Embedding: []float32{0.6, 0.8}},
		{ID: "far", PlanID: "plan-1", PageNumber: page(3), TextChunk: "paint schedule", Embedding: []float32{0, 1}},
		{ID: "other-plan", PlanID: "plan-2", TextChunk: "copper pipe runs", Embedding: []float32{1, 0}},
	}
	if err := vs.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := vs.Search("plan-1", []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "exact" || got[1].ID != "close" {
		t.Errorf("order = [%s %s], want [exact close]", got[0].ID, got[1].ID)
	}
	if got[0].Score < 0.99 {
		t.Errorf("exact match score = %f, want ~1", got[0].Score)
	}
	if got[0].SheetID != "P-101" || got[0].PageNumber == nil || *got[0].PageNumber != 1 {
		t.Errorf("record details not round-tripped: %+v", got[0].Record)
	}
}

func TestSearchScopedToPlan(t *testing.T) {
	vs := openTestVectorStore(t)

	if err := vs.Insert([]Record{
		{ID: "a", PlanID: "plan-1", TextChunk: "x", Embedding: []float32{1, 0}},
		{ID: "b", PlanID: "plan-2", TextChunk: "y", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := vs.Search("plan-2", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("got = %+v, want only plan-2's record", got)
	}
}

func TestSearchEdgeCases(t *testing.T) {
	vs := openTestVectorStore(t)

	got, err := vs.Search("empty-plan", []float32{1, 0}, 5)
	if err != nil || got != nil {
		t.Errorf("empty plan: got %v, %v", got, err)
	}

	if err := vs.Insert([]Record{{ID: "a", PlanID: "plan-1", TextChunk: "x", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err = vs.Search("plan-1", []float32{0, 0}, 5)
	if err != nil || got != nil {
		t.Errorf("zero query vector: got %v, %v", got, err)
	}

	got, err = vs.Search("plan-1", []float32{1, 0}, 0)
	if err != nil || got != nil {
		t.Errorf("topK 0: got %v, %v", got, err)
	}
}

func TestCountAndDeleteByPlan(t *testing.T) {
	vs := openTestVectorStore(t)

	if err := vs.Insert([]Record{
		{ID: "a", PlanID: "plan-1", TextChunk: "x", Embedding: []float32{1}},
		{ID: "b", PlanID: "plan-1", TextChunk: "y", Embedding: []float32{1}},
		{ID: "c", PlanID: "plan-2", TextChunk: "z", Embedding: []float32{1}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := vs.CountByPlan("plan-1")
	if err != nil || n != 2 {
		t.Errorf("CountByPlan(plan-1) = %d, %v, want 2", n, err)
	}

	if err := vs.DeleteByPlan("plan-1"); err != nil {
		t.Fatalf("DeleteByPlan: %v", err)
	}
	n, err = vs.CountByPlan("plan-1")
	if err != nil || n != 0 {
		t.Errorf("CountByPlan after delete = %d, %v, want 0", n, err)
	}
	n, err = vs.CountByPlan("plan-2")
	if err != nil || n != 1 {
		t.Errorf("CountByPlan(plan-2) = %d, %v, want 1", n, err)
	}
}

func TestFloat32Encoding(t *testing.T) {
	in := []float32{0.1, -2.5, 0, 1e6}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}

	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error on truncated blob")
	}
}
