package retrieval

import "time"

// VectorStore is the storage and similarity-search backend for plan text
// chunks. The default implementation is SQLite with brute-force cosine
// similarity; searches are always scoped to a single plan.
type VectorStore interface {
	// Insert adds chunk records.
	Insert(records []Record) error

	// Search returns the top-K records for the plan most similar to the vector.
	Search(planID string, vector []float32, topK int) ([]ScoredRecord, error)

	// CountByPlan returns how many chunks are indexed for the plan.
	CountByPlan(planID string) (int, error)

	// DeleteByPlan removes all chunks for a plan (used before re-indexing).
	DeleteByPlan(planID string) error
}

// Record is one stored plan text chunk.
type Record struct {
	ID         string
	PlanID     string
	PageNumber *int
	SheetID    string
	SheetTitle string
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
