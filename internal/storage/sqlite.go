package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for jobs, plans, takeoffs,
// sheet indexes, conversation turns, and the ingest job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "planchat.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for components that need direct
// SQL access (the vector store).
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Jobs & Plans ---

func (s *Store) SaveJob(j Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, name, client, address, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, client = excluded.client, address = excluded.address`,
		j.ID, j.Name, j.Client, j.Address, timestamp(j.CreatedAt),
	)
	return err
}

func (s *Store) GetJob(id string) (Job, error) {
	var j Job
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, client, address, created_at FROM jobs WHERE id = ?`, id).
		Scan(&j.ID, &j.Name, &j.Client, &j.Address, &createdAt)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return Job{}, err
	}
	return j, nil
}

func (s *Store) SavePlan(p Plan) error {
	_, err := s.db.Exec(`
		INSERT INTO plans (id, job_id, title, address, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, address = excluded.address`,
		p.ID, p.JobID, p.Title, p.Address, timestamp(p.CreatedAt),
	)
	return err
}

func (s *Store) GetPlan(id string) (Plan, error) {
	var p Plan
	var createdAt string
	err := s.db.QueryRow(`SELECT id, job_id, title, address, created_at FROM plans WHERE id = ?`, id).
		Scan(&p.ID, &p.JobID, &p.Title, &p.Address, &createdAt)
	if err == sql.ErrNoRows {
		return Plan{}, ErrNotFound
	}
	if err != nil {
		return Plan{}, err
	}
	if p.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// --- Takeoff records ---

func (s *Store) SaveTakeoffRecord(r TakeoffRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO takeoff_records (id, plan_id, user_id, items_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.PlanID, r.UserID, r.ItemsJSON, timestamp(r.CreatedAt),
	)
	return err
}

// LatestTakeoffRecord returns the most recent takeoff snapshot for the
// (plan, user) pair, or ErrNotFound when none exists.
func (s *Store) LatestTakeoffRecord(planID, userID string) (TakeoffRecord, error) {
	var r TakeoffRecord
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, plan_id, user_id, items_json, created_at
		FROM takeoff_records WHERE plan_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, planID, userID,
	).Scan(&r.ID, &r.PlanID, &r.UserID, &r.ItemsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return TakeoffRecord{}, ErrNotFound
	}
	if err != nil {
		return TakeoffRecord{}, err
	}
	if r.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return TakeoffRecord{}, err
	}
	return r, nil
}

// --- Sheet index ---

func (s *Store) UpsertSheet(e SheetEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO sheet_index (id, plan_id, page_number, sheet_id, title, discipline, sheet_type, extracted_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id, page_number) DO UPDATE SET
			sheet_id = excluded.sheet_id, title = excluded.title,
			discipline = excluded.discipline, sheet_type = excluded.sheet_type,
			extracted_text = excluded.extracted_text`,
		e.ID, e.PlanID, e.PageNumber, e.SheetID, e.Title, e.Discipline, e.SheetType,
		e.ExtractedText, timestamp(e.CreatedAt),
	)
	return err
}

// SheetsByPlan returns the full sheet index for a plan, ordered by page number.
func (s *Store) SheetsByPlan(planID string) ([]SheetEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, plan_id, page_number, sheet_id, title, discipline, sheet_type, extracted_text, created_at
		FROM sheet_index WHERE plan_id = ? ORDER BY page_number ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSheets(rows)
}

// SheetsByPages returns sheets matching the given page numbers, ordered by page.
func (s *Store) SheetsByPages(planID string, pages []int) ([]SheetEntry, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(pages)+1)
	args = append(args, planID)
	for _, p := range pages {
		args = append(args, p)
	}
	query := `SELECT id, plan_id, page_number, sheet_id, title, discipline, sheet_type, extracted_text, created_at
		FROM sheet_index WHERE plan_id = ? AND page_number IN (?` + strings.Repeat(",?", len(pages)-1) + `)
		ORDER BY page_number ASC`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSheets(rows)
}

func scanSheets(rows *sql.Rows) ([]SheetEntry, error) {
	var results []SheetEntry
	for rows.Next() {
		var e SheetEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.PlanID, &e.PageNumber, &e.SheetID, &e.Title,
			&e.Discipline, &e.SheetType, &e.ExtractedText, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Conversation turns ---

func (s *Store) SaveTurn(t ConversationTurn) error {
	metadata := t.MetadataJSON
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO conversation_turns (id, plan_id, user_id, chat_id, user_message, assistant_message, summary, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PlanID, t.UserID, t.ChatID, t.UserMessage, t.AssistantMessage,
		t.Summary, metadata, timestamp(t.CreatedAt),
	)
	return err
}

// RecentTurns returns the most recent `limit` turns for (plan, user) in
// chronological (oldest-first) order.
func (s *Store) RecentTurns(planID, userID string, limit int) ([]ConversationTurn, error) {
	rows, err := s.db.Query(`
		SELECT id, plan_id, user_id, chat_id, user_message, assistant_message, summary, metadata_json, created_at
		FROM conversation_turns WHERE plan_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, planID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// OlderTurns returns turns older than the most recent `skip`, newest first.
func (s *Store) OlderTurns(planID, userID string, skip, limit int) ([]ConversationTurn, error) {
	rows, err := s.db.Query(`
		SELECT id, plan_id, user_id, chat_id, user_message, assistant_message, summary, metadata_json, created_at
		FROM conversation_turns WHERE plan_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, planID, userID, limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTurns(rows)
}

func (s *Store) CountTurns(planID, userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversation_turns WHERE plan_id = ? AND user_id = ?`,
		planID, userID).Scan(&n)
	return n, err
}

// UpdateTurnSummary writes a compressed summary onto an existing turn.
func (s *Store) UpdateTurnSummary(id, summary string) error {
	res, err := s.db.Exec(`UPDATE conversation_turns SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTurns(rows *sql.Rows) ([]ConversationTurn, error) {
	var results []ConversationTurn
	for rows.Next() {
		var t ConversationTurn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.PlanID, &t.UserID, &t.ChatID, &t.UserMessage,
			&t.AssistantMessage, &t.Summary, &t.MetadataJSON, &createdAt); err != nil {
			return nil, err
		}
		var err error
		if t.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// --- Ingest job queue ---

func (s *Store) EnqueueIngestJob(job IngestJob) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO ingest_jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextIngestJob atomically claims the oldest runnable pending job of
// the given types, or returns nil when none is due.
func (s *Store) ClaimNextIngestJob(types []string) (*IngestJob, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM ingest_jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j IngestJob
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE ingest_jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = parseTimestamp(runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = parseTimestamp(now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteIngestJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE ingest_jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailIngestJob records a failure, rescheduling with exponential backoff
// until max attempts is reached.
func (s *Store) FailIngestJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM ingest_jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE ingest_jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE ingest_jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

// timeLayout is RFC3339 with fixed-width fractional seconds. RFC3339Nano
// trims trailing zeros, which breaks lexicographic ORDER BY for rows
// written within the same second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(timeLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
