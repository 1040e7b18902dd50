package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/buildra/planchat/internal/storage"
	"github.com/buildra/planchat/internal/takeoff"
)

const (
	// DefaultChunkLimit caps semantic retrieval results.
	DefaultChunkLimit = 12
	// DefaultItemLimit caps target-matched takeoff items.
	DefaultItemLimit = 50
)

// Searcher embeds a query and performs similarity search over a plan's
// chunks, converting stored records to Chunks.
type Searcher struct {
	embedder *Embedder
	store    VectorStore
}

// NewSearcher creates a Searcher backed by the given Embedder and VectorStore.
func NewSearcher(embedder *Embedder, store VectorStore) *Searcher {
	return &Searcher{embedder: embedder, store: store}
}

// SearchChunks returns the top-K most similar chunks for the plan.
func (s *Searcher) SearchChunks(ctx context.Context, planID, query string, limit int) ([]Chunk, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := s.store.Search(planID, vec, limit)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(scored))
	for i, r := range scored {
		c := Chunk{
			SnippetText: r.TextChunk,
			PageNumber:  r.PageNumber,
			Similarity:  float64(r.Score),
		}
		if r.SheetID != "" || r.SheetTitle != "" {
			c.Sheet = &SheetMeta{SheetID: r.SheetID, SheetTitle: r.SheetTitle}
		}
		chunks[i] = c
	}
	return chunks, nil
}

// ChunkSearcher abstracts semantic chunk search for the engine.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, planID, query string, limit int) ([]Chunk, error)
}

// PlanStore is the structured-data surface the engine reads from.
// Implemented by storage.Store.
type PlanStore interface {
	GetPlan(id string) (storage.Plan, error)
	GetJob(id string) (storage.Job, error)
	LatestTakeoffRecord(planID, userID string) (storage.TakeoffRecord, error)
	SheetsByPlan(planID string) ([]storage.SheetEntry, error)
	SheetsByPages(planID string, pages []int) ([]storage.SheetEntry, error)
}

// Query is one retrieval request.
type Query struct {
	PlanID  string
	UserID  string
	JobID   string
	Query   string
	Targets []string
	Pages   []int
}

// Engine performs the four independent retrievals: semantic chunk search,
// target-matched takeoff items, related sheets, and project metadata.
type Engine struct {
	chunks     ChunkSearcher
	store      PlanStore
	chunkLimit int
	itemLimit  int
}

// NewEngine creates an Engine. Zero limits fall back to the defaults.
func NewEngine(chunks ChunkSearcher, store PlanStore, chunkLimit, itemLimit int) *Engine {
	if chunkLimit <= 0 {
		chunkLimit = DefaultChunkLimit
	}
	if itemLimit <= 0 {
		itemLimit = DefaultItemLimit
	}
	return &Engine{chunks: chunks, store: store, chunkLimit: chunkLimit, itemLimit: itemLimit}
}

// Retrieve runs the four sub-retrievals concurrently and returns them
// unmerged. Each channel fails soft: an error on one leaves it empty and
// never affects the others; partial context beats no context.
func (e *Engine) Retrieve(ctx context.Context, q Query) Result {
	var result Result
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		chunks, err := e.chunks.SearchChunks(ctx, q.PlanID, q.Query, e.chunkLimit)
		if err != nil {
			slog.Warn("semantic retrieval failed", "plan_id", q.PlanID, "error", err)
			return
		}
		result.Chunks = chunks
	}()

	go func() {
		defer wg.Done()
		items, err := e.retrieveItems(q)
		if err != nil {
			slog.Warn("takeoff retrieval failed", "plan_id", q.PlanID, "error", err)
			return
		}
		result.Items = items
	}()

	go func() {
		defer wg.Done()
		sheets, err := e.retrieveSheets(q)
		if err != nil {
			slog.Warn("sheet retrieval failed", "plan_id", q.PlanID, "error", err)
			return
		}
		result.Sheets = sheets
	}()

	go func() {
		defer wg.Done()
		meta, err := e.retrieveMetadata(q)
		if err != nil {
			slog.Warn("metadata retrieval failed", "plan_id", q.PlanID, "error", err)
			return
		}
		result.Metadata = meta
	}()

	wg.Wait()
	return result
}

// retrieveItems loads the latest takeoff snapshot, normalizes it, and
// keeps items fuzzy-matching the targets.
func (e *Engine) retrieveItems(q Query) ([]takeoff.Item, error) {
	rec, err := e.store.LatestTakeoffRecord(q.PlanID, q.UserID)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	items := takeoff.ParseItemsJSON(rec.ItemsJSON)
	return takeoff.FilterByTargets(items, q.Targets, e.itemLimit), nil
}

// retrieveSheets looks up sheets by explicit page numbers when present,
// otherwise scans for substring matches of any target against title,
// discipline, or sheet type. Results are deduplicated by page number,
// first occurrence wins.
func (e *Engine) retrieveSheets(q Query) ([]RelatedSheet, error) {
	var entries []storage.SheetEntry
	var err error

	if len(q.Pages) > 0 {
		entries, err = e.store.SheetsByPages(q.PlanID, q.Pages)
	} else if len(q.Targets) > 0 {
		var all []storage.SheetEntry
		all, err = e.store.SheetsByPlan(q.PlanID)
		if err == nil {
			entries = matchSheets(all, q.Targets)
		}
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(entries))
	var sheets []RelatedSheet
	for _, s := range entries {
		if seen[s.PageNumber] {
			continue
		}
		seen[s.PageNumber] = true
		sheets = append(sheets, RelatedSheet{
			PageNumber: s.PageNumber,
			SheetID:    s.SheetID,
			Title:      s.Title,
			Discipline: s.Discipline,
			SheetType:  s.SheetType,
		})
	}
	return sheets, nil
}

func matchSheets(entries []storage.SheetEntry, targets []string) []storage.SheetEntry {
	var matched []storage.SheetEntry
	for _, s := range entries {
		haystack := strings.ToLower(s.Title + " " + s.Discipline + " " + s.SheetType)
		for _, t := range targets {
			if t = strings.ToLower(strings.TrimSpace(t)); t == "" {
				continue
			}
			if strings.Contains(haystack, t) {
				matched = append(matched, s)
				break
			}
		}
	}
	return matched
}

// retrieveMetadata joins plan and job records, recomputes category
// roll-ups from the latest takeoff, and loads the sheet index.
func (e *Engine) retrieveMetadata(q Query) (*ProjectMetadata, error) {
	plan, err := e.store.GetPlan(q.PlanID)
	if err != nil {
		return nil, err
	}

	meta := &ProjectMetadata{
		PlanTitle: plan.Title,
		Address:   plan.Address,
	}

	jobID := plan.JobID
	if jobID == "" {
		jobID = q.JobID
	}
	if jobID != "" {
		if job, err := e.store.GetJob(jobID); err == nil {
			meta.JobName = job.Name
			if meta.Address == "" {
				meta.Address = job.Address
			}
		}
	}

	if sheets, err := e.store.SheetsByPlan(q.PlanID); err == nil {
		disciplines := make(map[string]bool)
		for _, s := range sheets {
			if s.Discipline != "" {
				disciplines[s.Discipline] = true
			}
			meta.SheetIndexSummary = append(meta.SheetIndexSummary, SheetSummary{
				PageNumber: s.PageNumber,
				SheetID:    s.SheetID,
				Title:      s.Title,
			})
		}
		for d := range disciplines {
			meta.Disciplines = append(meta.Disciplines, d)
		}
		sort.Strings(meta.Disciplines)
	}

	if rec, err := e.store.LatestTakeoffRecord(q.PlanID, q.UserID); err == nil {
		items := takeoff.ParseItemsJSON(rec.ItemsJSON)
		meta.MajorQuantityCategories = topCategories(items, func(i takeoff.Item) *float64 { return i.Quantity })
		meta.MajorCostCategories = topCategories(items, func(i takeoff.Item) *float64 { return i.TotalCost })
	}

	return meta, nil
}

// topCategories rolls up per-category totals and keeps the top ten by
// total descending.
func topCategories(items []takeoff.Item, value func(takeoff.Item) *float64) []CategoryTotal {
	totals := make(map[string]float64)
	for _, it := range items {
		cat := it.Category
		if cat == "" {
			cat = "uncategorized"
		}
		if v := value(it); v != nil {
			totals[cat] += *v
		}
	}

	out := make([]CategoryTotal, 0, len(totals))
	for cat, total := range totals {
		out = append(out, CategoryTotal{Category: cat, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}
