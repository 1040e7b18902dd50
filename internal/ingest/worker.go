package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/buildra/planchat/internal/storage"
)

// JobTypeReindex rebuilds a plan's chunk index. Payload: {"plan_id": "..."}.
const JobTypeReindex = "reindex"

// DefaultPollInterval is how often the worker checks for due jobs.
const DefaultPollInterval = 5 * time.Second

// JobQueue is the persistent queue the worker drains.
type JobQueue interface {
	ClaimNextIngestJob(types []string) (*storage.IngestJob, error)
	CompleteIngestJob(id string) error
	FailIngestJob(id string, errMsg string) error
}

// Worker polls the ingest queue and runs indexing jobs one at a time.
// A single worker per process is enough; the queue's claim is atomic, so
// running more is safe but pointless against a single SQLite file.
type Worker struct {
	queue    JobQueue
	indexer  *Indexer
	interval time.Duration
	logger   *slog.Logger
}

func NewWorker(queue JobQueue, indexer *Indexer, interval time.Duration, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: queue, indexer: indexer, interval: interval, logger: logger}
}

// Run drains jobs until ctx is cancelled. It drains everything currently
// due before sleeping, so a burst of enqueued plans is processed without
// an interval per job.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		for w.runOnce(ctx) {
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOnce claims and runs one job. It reports whether a job was found, so
// the caller knows to keep draining.
func (w *Worker) runOnce(ctx context.Context) bool {
	job, err := w.queue.ClaimNextIngestJob([]string{JobTypeReindex})
	if err != nil {
		w.logger.Error("claiming ingest job failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	w.logger.Info("running ingest job", "job_id", job.ID, "type", job.Type, "attempt", job.Attempts+1)
	if err := w.run(ctx, job); err != nil {
		w.logger.Warn("ingest job failed", "job_id", job.ID, "error", err)
		if ferr := w.queue.FailIngestJob(job.ID, err.Error()); ferr != nil {
			w.logger.Error("recording job failure failed", "job_id", job.ID, "error", ferr)
		}
		return true
	}
	if err := w.queue.CompleteIngestJob(job.ID); err != nil {
		w.logger.Error("completing ingest job failed", "job_id", job.ID, "error", err)
	}
	return true
}

func (w *Worker) run(ctx context.Context, job *storage.IngestJob) error {
	switch job.Type {
	case JobTypeReindex:
		var payload struct {
			PlanID string `json:"plan_id"`
		}
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("decoding payload: %w", err)
		}
		if payload.PlanID == "" {
			return fmt.Errorf("payload missing plan_id")
		}
		_, err := w.indexer.Reindex(ctx, payload.PlanID)
		return err
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}
