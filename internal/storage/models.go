package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job is a construction job (project) that plans belong to.
type Job struct {
	ID        string
	Name      string
	Client    string
	Address   string
	CreatedAt time.Time
}

// Plan is one uploaded blueprint set within a job.
type Plan struct {
	ID        string
	JobID     string
	Title     string
	Address   string
	CreatedAt time.Time
}

// TakeoffRecord holds one takeoff snapshot for a (plan, user) pair.
// Items are stored as raw JSON because producers disagree on field names;
// normalization happens in the takeoff package at read time.
type TakeoffRecord struct {
	ID        string
	PlanID    string
	UserID    string
	ItemsJSON string
	CreatedAt time.Time
}

// SheetEntry is one page of a plan's sheet index.
type SheetEntry struct {
	ID            string
	PlanID        string
	PageNumber    int
	SheetID       string
	Title         string
	Discipline    string
	SheetType     string
	ExtractedText string
	CreatedAt     time.Time
}

// ConversationTurn is one question/answer pair in a plan conversation.
// Summary is filled in later when older turns are compressed.
type ConversationTurn struct {
	ID               string
	PlanID           string
	UserID           string
	ChatID           string
	UserMessage      string
	AssistantMessage string
	Summary          string
	MetadataJSON     string
	CreatedAt        time.Time
}

// IngestJob is a queued background indexing task.
type IngestJob struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
