package compose

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/buildra/planchat/internal/classify"
	"github.com/buildra/planchat/internal/memory"
	"github.com/buildra/planchat/internal/retrieval"
	"github.com/buildra/planchat/internal/storage"
	"github.com/buildra/planchat/internal/takeoff"
)

type fakeRetriever struct {
	result retrieval.Result
	query  retrieval.Query
}

func (f *fakeRetriever) Retrieve(_ context.Context, q retrieval.Query) retrieval.Result {
	f.query = q
	return f.result
}

type fakeMemory struct {
	ctx memory.Context
}

func (f *fakeMemory) RecentContext(context.Context, string, string) memory.Context {
	return f.ctx
}

func manyItems(n int) []takeoff.Item {
	items := make([]takeoff.Item, n)
	for i := range items {
		qty := float64(i + 1)
		cost := 10.0
		items[i] = takeoff.Item{
			ID: fmt.Sprintf("item-%d", i), Name: fmt.Sprintf("Item %d", i),
			Quantity: &qty, TotalCost: &cost,
		}
	}
	return items
}

func TestBuildPassesClassificationToRetrieval(t *testing.T) {
	r := &fakeRetriever{}
	b := NewBuilder(r, nil, 0, 0, 0)

	cls := classify.Classification{
		QuestionType: classify.TakeoffQuantity,
		Targets:      []string{"copper pipe"},
		Pages:        []int{4},
	}
	b.Build(context.Background(), "plan-1", "user-1", "job-1", cls, "how much copper pipe on page 4?")

	if r.query.PlanID != "plan-1" || r.query.UserID != "user-1" || r.query.JobID != "job-1" {
		t.Errorf("query identity = %+v", r.query)
	}
	if len(r.query.Targets) != 1 || r.query.Targets[0] != "copper pipe" {
		t.Errorf("query targets = %v", r.query.Targets)
	}
	if len(r.query.Pages) != 1 || r.query.Pages[0] != 4 {
		t.Errorf("query pages = %v", r.query.Pages)
	}
}

func TestBuildCapsItemsAndComputesTotals(t *testing.T) {
	r := &fakeRetriever{result: retrieval.Result{Items: manyItems(60)}}
	b := NewBuilder(r, nil, 0, 0, 0)

	cls := classify.Classification{Targets: []string{"item"}}
	pc := b.Build(context.Background(), "plan-1", "user-1", "", cls, "how many items of pipe?")

	if len(pc.Items) != DefaultItemCap {
		t.Fatalf("len(Items) = %d, want %d", len(pc.Items), DefaultItemCap)
	}
	if !pc.ItemsTruncated {
		t.Error("ItemsTruncated should be set")
	}
	// Totals cover the listed 50 items only: 1+2+...+50 and 50 * $10.
	if pc.QuantityTotal != 1275 {
		t.Errorf("QuantityTotal = %v, want 1275", pc.QuantityTotal)
	}
	if pc.CostTotal != 500 {
		t.Errorf("CostTotal = %v, want 500", pc.CostTotal)
	}

	var truncNote string
	for _, n := range pc.Notes {
		if strings.Contains(n, "truncated") {
			truncNote = n
		}
	}
	if !strings.Contains(truncNote, "50 of 60") {
		t.Errorf("truncation note = %q, want counts 50 of 60", truncNote)
	}
}

func TestBuildBroadQuestionRaisesItemCap(t *testing.T) {
	r := &fakeRetriever{result: retrieval.Result{Items: manyItems(80)}}
	b := NewBuilder(r, nil, 0, 0, 0)

	// No targets: broad by definition.
	pc := b.Build(context.Background(), "plan-1", "user-1", "", classify.Classification{}, "give me an overview of the takeoff")
	if len(pc.Items) != 80 || pc.ItemsTruncated {
		t.Errorf("broad question: len = %d truncated = %v, want all 80", len(pc.Items), pc.ItemsTruncated)
	}

	// Targeted but phrased as a summary still gets the broad cap.
	pc = b.Build(context.Background(), "plan-1", "user-1", "", classify.Classification{Targets: []string{"pipe"}}, "summarize everything in the plumbing takeoff")
	if len(pc.Items) != 80 {
		t.Errorf("summary question: len = %d, want 80", len(pc.Items))
	}
}

func TestBuildCapsChunksAndSheets(t *testing.T) {
	chunks := make([]retrieval.Chunk, 20)
	for i := range chunks {
		chunks[i] = retrieval.Chunk{SnippetText: fmt.Sprintf("chunk %d", i)}
	}
	sheets := make([]retrieval.RelatedSheet, 15)
	for i := range sheets {
		sheets[i] = retrieval.RelatedSheet{PageNumber: i + 1}
	}

	r := &fakeRetriever{result: retrieval.Result{Chunks: chunks, Sheets: sheets}}
	b := NewBuilder(r, nil, 0, 0, 0)

	pc := b.Build(context.Background(), "plan-1", "user-1", "", classify.Classification{Targets: []string{"x"}}, "q about pipe")
	if len(pc.Chunks) != DefaultChunkCap {
		t.Errorf("len(Chunks) = %d, want %d", len(pc.Chunks), DefaultChunkCap)
	}
	if len(pc.Sheets) != DefaultSheetCap {
		t.Errorf("len(Sheets) = %d, want %d", len(pc.Sheets), DefaultSheetCap)
	}
}

func TestBuildMergesMemory(t *testing.T) {
	r := &fakeRetriever{}
	mem := &fakeMemory{ctx: memory.Context{
		Turns:             []storage.ConversationTurn{{UserMessage: "earlier question"}},
		CompressedSummary: "talked about drywall",
	}}
	b := NewBuilder(r, mem, 0, 0, 0)

	pc := b.Build(context.Background(), "plan-1", "user-1", "", classify.Classification{}, "q")
	if len(pc.RecentTurns) != 1 || pc.CompressedSummary != "talked about drywall" {
		t.Errorf("memory not merged: %+v", pc)
	}
}

func TestBuildNotesAndScopeSummary(t *testing.T) {
	r := &fakeRetriever{}
	b := NewBuilder(r, nil, 0, 0, 0)

	cls := classify.Classification{Targets: []string{"copper pipe"}, Pages: []int{3, 4}}
	pc := b.Build(context.Background(), "plan-1", "user-1", "", cls, "q")

	joined := strings.Join(pc.Notes, "\n")
	if !strings.Contains(joined, "query targets: copper pipe") {
		t.Errorf("notes = %v, missing targets note", pc.Notes)
	}
	if !strings.Contains(joined, "pages 3, 4") {
		t.Errorf("notes = %v, missing pages note", pc.Notes)
	}
	if !strings.Contains(joined, "no blueprint text was retrieved") {
		t.Errorf("notes = %v, missing empty-retrieval note", pc.Notes)
	}
	if pc.ScopeSummary != "No plan data was available for this question." {
		t.Errorf("ScopeSummary = %q", pc.ScopeSummary)
	}

	r.result = retrieval.Result{Items: manyItems(2), Chunks: []retrieval.Chunk{{SnippetText: "x"}}}
	pc = b.Build(context.Background(), "plan-1", "user-1", "", cls, "q")
	if pc.ScopeSummary != "Context includes 2 takeoff item(s), 1 blueprint excerpt(s)." {
		t.Errorf("ScopeSummary = %q", pc.ScopeSummary)
	}
}
