package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/buildra/planchat/internal/classify"
	"github.com/buildra/planchat/internal/memory"
	"github.com/buildra/planchat/internal/retrieval"
	"github.com/buildra/planchat/internal/storage"
	"github.com/buildra/planchat/internal/takeoff"
)

const (
	// DefaultItemCap bounds takeoff items in the assembled context.
	DefaultItemCap = 50
	// BroadItemCap replaces DefaultItemCap for overview-style questions.
	BroadItemCap = 100
	// DefaultChunkCap bounds blueprint chunks.
	DefaultChunkCap = 12
	// DefaultSheetCap bounds related sheets.
	DefaultSheetCap = 10
)

// PlanContext is the assembled, bounded context for one question. It is
// constructed fresh per request and never persisted; only the resulting
// question/answer pair is.
type PlanContext struct {
	Classification classify.Classification
	Question       string

	RecentTurns       []storage.ConversationTurn
	CompressedSummary string

	Metadata *retrieval.ProjectMetadata

	Items          []takeoff.Item
	ItemsTruncated bool
	// Aggregates are computed over the capped item list, not the full
	// matched set (see DESIGN.md).
	QuantityTotal float64
	CostTotal     float64

	Chunks []retrieval.Chunk
	Sheets []retrieval.RelatedSheet

	Notes        []string
	ScopeSummary string
}

// Retriever is the retrieval surface the builder delegates to.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) retrieval.Result
}

// MemorySource is the conversation-memory surface the builder delegates to.
type MemorySource interface {
	RecentContext(ctx context.Context, planID, userID string) memory.Context
}

// Builder merges retrieval output and conversation memory into one
// bounded PlanContext. Beyond delegating to those two sources it performs
// no I/O, and it never fails: a missing source yields empty fields.
type Builder struct {
	retriever Retriever
	memory    MemorySource

	itemCap  int
	chunkCap int
	sheetCap int
}

// NewBuilder creates a Builder. Zero caps fall back to the defaults.
func NewBuilder(retriever Retriever, mem MemorySource, itemCap, chunkCap, sheetCap int) *Builder {
	if itemCap <= 0 {
		itemCap = DefaultItemCap
	}
	if chunkCap <= 0 {
		chunkCap = DefaultChunkCap
	}
	if sheetCap <= 0 {
		sheetCap = DefaultSheetCap
	}
	return &Builder{retriever: retriever, memory: mem, itemCap: itemCap, chunkCap: chunkCap, sheetCap: sheetCap}
}

// Build retrieves, merges, and bounds everything needed to answer the
// question.
func (b *Builder) Build(ctx context.Context, planID, userID, jobID string, cls classify.Classification, question string) *PlanContext {
	result := b.retriever.Retrieve(ctx, retrieval.Query{
		PlanID:  planID,
		UserID:  userID,
		JobID:   jobID,
		Query:   question,
		Targets: cls.Targets,
		Pages:   cls.Pages,
	})

	var mem memory.Context
	if b.memory != nil {
		mem = b.memory.RecentContext(ctx, planID, userID)
	}

	pc := &PlanContext{
		Classification:    cls,
		Question:          question,
		RecentTurns:       mem.Turns,
		CompressedSummary: mem.CompressedSummary,
		Metadata:          result.Metadata,
	}

	itemCap := b.itemCap
	if isBroadQuestion(cls, question) {
		itemCap = BroadItemCap
	}

	pc.Items = result.Items
	if len(pc.Items) > itemCap {
		pc.Items = pc.Items[:itemCap]
		pc.ItemsTruncated = true
	}
	for _, it := range pc.Items {
		if it.Quantity != nil {
			pc.QuantityTotal += *it.Quantity
		}
		if it.TotalCost != nil {
			pc.CostTotal += *it.TotalCost
		}
	}

	pc.Chunks = result.Chunks
	if len(pc.Chunks) > b.chunkCap {
		pc.Chunks = pc.Chunks[:b.chunkCap]
	}

	pc.Sheets = result.Sheets
	if len(pc.Sheets) > b.sheetCap {
		pc.Sheets = pc.Sheets[:b.sheetCap]
	}

	pc.Notes = coverageNotes(cls, result, pc)
	pc.ScopeSummary = scopeSummary(pc)

	return pc
}

// isBroadQuestion detects overview-style questions that warrant a larger
// item cap.
func isBroadQuestion(cls classify.Classification, question string) bool {
	if len(cls.Targets) == 0 {
		return true
	}
	q := strings.ToLower(question)
	for _, w := range []string{"overview", "everything", "all items", "entire", "whole", "summary", "summarize"} {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// coverageNotes produces the human-readable notes describing what the
// context covers and where it is bounded.
func coverageNotes(cls classify.Classification, result retrieval.Result, pc *PlanContext) []string {
	var notes []string

	if len(cls.Targets) > 0 {
		notes = append(notes, "query targets: "+strings.Join(cls.Targets, ", "))
	}
	if len(cls.Pages) > 0 {
		notes = append(notes, "user asked about pages "+joinInts(cls.Pages))
	}
	if pc.ItemsTruncated {
		notes = append(notes, fmt.Sprintf("takeoff items truncated to %d of %d matched; totals cover the listed items only", len(pc.Items), len(result.Items)))
	}
	if len(result.Chunks) == 0 {
		notes = append(notes, "no blueprint text was retrieved for this question")
	}
	return notes
}

func scopeSummary(pc *PlanContext) string {
	var parts []string
	if n := len(pc.Items); n > 0 {
		parts = append(parts, fmt.Sprintf("%d takeoff item(s)", n))
	}
	if n := len(pc.Chunks); n > 0 {
		parts = append(parts, fmt.Sprintf("%d blueprint excerpt(s)", n))
	}
	if n := len(pc.Sheets); n > 0 {
		parts = append(parts, fmt.Sprintf("%d related sheet(s)", n))
	}
	if len(parts) == 0 {
		return "No plan data was available for this question."
	}
	return "Context includes " + strings.Join(parts, ", ") + "."
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
