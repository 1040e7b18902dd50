// Package ingest turns stored sheet text into searchable vector chunks.
// Indexing runs two ways: synchronously when the answer engine finds a
// plan with nothing indexed, and in the background via the job worker.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildra/planchat/internal/retrieval"
	"github.com/buildra/planchat/internal/storage"
)

// chunkSize is the target chunk length in characters. Sheets shorter than
// this index as a single chunk.
const chunkSize = 800

// chunkOverlap carries trailing context into the next chunk so matches do
// not die on a chunk boundary.
const chunkOverlap = 120

// SheetSource loads the sheets to index.
type SheetSource interface {
	SheetsByPlan(planID string) ([]storage.SheetEntry, error)
}

// Embedder converts text batches to vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer rebuilds a plan's chunk index from its sheet text.
type Indexer struct {
	sheets   SheetSource
	embedder Embedder
	store    retrieval.VectorStore
	logger   *slog.Logger
}

func NewIndexer(sheets SheetSource, embedder Embedder, store retrieval.VectorStore, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{sheets: sheets, embedder: embedder, store: store, logger: logger}
}

// Reindex drops and rebuilds the plan's chunks. It returns the number of
// chunks indexed; a plan whose sheets carry no extracted text indexes
// zero chunks without error.
func (ix *Indexer) Reindex(ctx context.Context, planID string) (int, error) {
	sheets, err := ix.sheets.SheetsByPlan(planID)
	if err != nil {
		return 0, fmt.Errorf("loading sheets for plan %s: %w", planID, err)
	}

	var (
		texts   []string
		records []retrieval.Record
	)
	now := time.Now()
	for _, sheet := range sheets {
		for _, chunk := range splitChunks(sheet.ExtractedText) {
			page := sheet.PageNumber
			texts = append(texts, chunk)
			records = append(records, retrieval.Record{
				ID:         uuid.NewString(),
				PlanID:     planID,
				PageNumber: &page,
				SheetID:    sheet.SheetID,
				SheetTitle: sheet.Title,
				TextChunk:  chunk,
				CreatedAt:  now,
			})
		}
	}
	if len(records) == 0 {
		ix.logger.Info("no sheet text to index", "plan_id", planID)
		return 0, nil
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding %d chunks for plan %s: %w", len(records), planID, err)
	}
	if len(vectors) != len(records) {
		return 0, fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(records))
	}
	for i := range records {
		records[i].Embedding = vectors[i]
	}

	if err := ix.store.DeleteByPlan(planID); err != nil {
		return 0, fmt.Errorf("clearing old chunks for plan %s: %w", planID, err)
	}
	if err := ix.store.Insert(records); err != nil {
		return 0, fmt.Errorf("inserting chunks for plan %s: %w", planID, err)
	}

	ix.logger.Info("plan reindexed", "plan_id", planID, "sheets", len(sheets), "chunks", len(records))
	return len(records), nil
}

// splitChunks breaks sheet text into roughly chunkSize pieces, preferring
// paragraph then sentence boundaries, with a short overlap between
// consecutive chunks.
func splitChunks(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= chunkSize {
			chunks = append(chunks, text)
			break
		}
		cut := boundary(text, chunkSize)
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		next := cut - chunkOverlap
		if next <= 0 {
			next = cut
		}
		text = strings.TrimSpace(text[next:])
	}
	return chunks
}

// boundary finds a split point at or before limit, preferring a blank
// line, then a sentence end, then any whitespace.
func boundary(text string, limit int) int {
	window := text[:limit]
	if i := strings.LastIndex(window, "\n\n"); i > limit/2 {
		return i
	}
	for _, sep := range []string{". ", ".\n", "\n"} {
		if i := strings.LastIndex(window, sep); i > limit/2 {
			return i + len(sep)
		}
	}
	if i := strings.LastIndexAny(window, " \t"); i > 0 {
		return i
	}
	return limit
}
