package retrieval

import "github.com/buildra/planchat/internal/takeoff"

// SheetMeta identifies the sheet a text chunk came from.
type SheetMeta struct {
	SheetID    string `json:"sheet_id"`
	SheetTitle string `json:"sheet_title"`
}

// Chunk is one retrieved blueprint text fragment with its similarity score.
type Chunk struct {
	SnippetText string     `json:"snippet_text"`
	PageNumber  *int       `json:"page_number"`
	Sheet       *SheetMeta `json:"sheet_metadata"`
	Similarity  float64    `json:"similarity"`
}

// RelatedSheet is a sheet-index entry relevant to the question.
type RelatedSheet struct {
	PageNumber int    `json:"page_number"`
	SheetID    string `json:"sheet_id,omitempty"`
	Title      string `json:"title,omitempty"`
	Discipline string `json:"discipline,omitempty"`
	SheetType  string `json:"sheet_type,omitempty"`
}

// CategoryTotal is one category roll-up from the latest takeoff.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
}

// SheetSummary is one line of the plan's sheet index, ordered by page.
type SheetSummary struct {
	PageNumber int    `json:"page_number"`
	SheetID    string `json:"sheet_id,omitempty"`
	Title      string `json:"title,omitempty"`
}

// ProjectMetadata aggregates plan, job, and takeoff roll-up facts.
// Recomputed per request from current state, never cached.
type ProjectMetadata struct {
	JobName                 string          `json:"job_name"`
	PlanTitle               string          `json:"plan_title"`
	Address                 string          `json:"address"`
	Disciplines             []string        `json:"disciplines"`
	MajorQuantityCategories []CategoryTotal `json:"major_quantity_categories"`
	MajorCostCategories     []CategoryTotal `json:"major_cost_categories"`
	SheetIndexSummary       []SheetSummary  `json:"sheet_index_summary"`
}

// Result carries the four retrieval channels, unmerged. Any channel may be
// empty or nil when its source failed or had nothing.
type Result struct {
	Chunks   []Chunk
	Items    []takeoff.Item
	Sheets   []RelatedSheet
	Metadata *ProjectMetadata
}
