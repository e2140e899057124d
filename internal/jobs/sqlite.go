package jobs

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"slidereel/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// sqliteStore manages job persistence backed by SQLite.
type sqliteStore struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database under the data dir and
// applies the schema.
func Open(cfg *config.Config) (Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "jobs.db"))
}

// OpenPath opens a job store at an explicit database path.
func OpenPath(dbPath string) (Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &sqliteStore{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *sqliteStore) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to reset)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *sqliteStore) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

const jobColumns = `id, token, owner_id, source_filename, source_path, status, current_stage,
	progress, progress_message, stages_json, security_report_json, result_json,
	error_message, cancel_requested, created_at, updated_at, last_heartbeat`

// Create persists a new job, assigning ID, token, and timestamps.
func (s *sqliteStore) Create(ctx context.Context, job *Job) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Token == "" {
		job.Token = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusPending
	}
	stagesJSON, err := marshalStages(job.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	res, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (
			token, owner_id, source_filename, source_path, status, current_stage,
			progress, progress_message, stages_json, security_report_json, result_json,
			error_message, cancel_requested, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Token,
		job.OwnerID,
		job.SourceFilename,
		job.SourcePath,
		job.Status,
		string(job.CurrentStage),
		job.Progress,
		job.ProgressMessage,
		stagesJSON,
		nullableString(string(job.SecurityReport)),
		nullableJSON(job.Result),
		job.ErrorMessage,
		boolToInt(job.CancelRequested),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	job.ID = id
	return nil
}

// GetByID fetches a job by internal identifier.
func (s *sqliteStore) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// GetByToken fetches a job by its public token.
func (s *sqliteStore) GetByToken(ctx context.Context, token string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE token = ?`, strings.TrimSpace(token))
	return scanJob(row)
}

// Update persists the full mutable state of a job. The cancel flag is
// sticky: RequestCancel can race a worker's stage persistence, so a stale
// in-memory false never clears a flag already set in the store.
func (s *sqliteStore) Update(ctx context.Context, job *Job) error {
	if job == nil || job.ID == 0 {
		return errors.New("job with id required")
	}
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	job.UpdatedAt = now
	stagesJSON, err := marshalStages(job.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	_, err = s.execWithRetry(ctx,
		`UPDATE jobs SET
			owner_id = ?, source_filename = ?, source_path = ?, status = ?,
			current_stage = ?, progress = ?, progress_message = ?, stages_json = ?,
			security_report_json = ?, result_json = ?, error_message = ?,
			cancel_requested = MAX(cancel_requested, ?), updated_at = ?, last_heartbeat = ?
		WHERE id = ?`,
		job.OwnerID,
		job.SourceFilename,
		job.SourcePath,
		job.Status,
		string(job.CurrentStage),
		job.Progress,
		job.ProgressMessage,
		stagesJSON,
		nullableString(string(job.SecurityReport)),
		nullableJSON(job.Result),
		job.ErrorMessage,
		boolToInt(job.CancelRequested),
		now.Format(time.RFC3339Nano),
		nullableTime(job.LastHeartbeat),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// List returns jobs filtered to the given statuses (all when empty), newest first.
func (s *sqliteStore) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// ClaimNextPending atomically moves the oldest pending job into validating.
func (s *sqliteStore) ClaimNextPending(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		var id int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE status = ? ORDER BY id LIMIT 1`, StatusPending,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select pending: %w", err)
		}

		res, err := s.execWithRetry(ctx,
			`UPDATE jobs SET status = ?, current_stage = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusValidating,
			string(StageValidate),
			time.Now().UTC().Format(time.RFC3339Nano),
			id,
			StatusPending,
		)
		if err != nil {
			return nil, fmt.Errorf("claim pending: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 1 {
			return s.GetByID(ctx, id)
		}
		// Another worker won the race; try the next pending job.
	}
	return nil, nil
}

// RequestCancel marks a job for cooperative cancellation.
func (s *sqliteStore) RequestCancel(ctx context.Context, token string) (*Job, error) {
	ctx = ensureContext(ctx)
	job, err := s.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return job, ErrTerminal
	}
	if job.Status == StatusPending {
		job.SetCancelled()
	} else {
		job.CancelRequested = true
	}
	if err := s.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateHeartbeat refreshes the liveness timestamp for an in-flight job.
func (s *sqliteStore) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale returns in-flight jobs with expired heartbeats to pending so a
// worker can pick them up again after a crash.
func (s *sqliteStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs SET status = ?, current_stage = '', progress_message = 'Reclaimed from stale processing',
			last_heartbeat = NULL, updated_at = ?
		WHERE status IN (?, ?, ?, ?) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusPending,
		now,
		StatusValidating, StatusExtracting, StatusSynthesizing, StatusRendering,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// FailRunning fails every non-terminal in-flight job, used at shutdown.
func (s *sqliteStore) FailRunning(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ensureContext(ctx),
		`UPDATE jobs SET status = ?, error_message = ?, progress_message = ?,
			last_heartbeat = NULL, updated_at = ?
		WHERE status IN (?, ?, ?, ?)`,
		StatusFailed,
		reason,
		reason,
		now,
		StatusValidating, StatusExtracting, StatusSynthesizing, StatusRendering,
	)
	if err != nil {
		return 0, fmt.Errorf("fail running jobs: %w", err)
	}
	return res.RowsAffected()
}

// Health reports aggregate queue counts.
func (s *sqliteStore) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("health query: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, err
		}
		summary.Total += count
		switch {
		case status == StatusPending:
			summary.Pending += count
		case IsProcessingStatus(status):
			summary.Processing += count
		case status == StatusCompleted:
			summary.Completed += count
		case status == StatusFailed:
			summary.Failed += count
		case status == StatusCancelled:
			summary.Cancelled += count
		}
	}
	return summary, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job             Job
		currentStage    string
		stagesJSON      string
		securityReport  sql.NullString
		resultJSON      sql.NullString
		cancelRequested int
		createdAt       string
		updatedAt       string
		lastHeartbeat   sql.NullString
	)
	err := row.Scan(
		&job.ID,
		&job.Token,
		&job.OwnerID,
		&job.SourceFilename,
		&job.SourcePath,
		&job.Status,
		&currentStage,
		&job.Progress,
		&job.ProgressMessage,
		&stagesJSON,
		&securityReport,
		&resultJSON,
		&job.ErrorMessage,
		&cancelRequested,
		&createdAt,
		&updatedAt,
		&lastHeartbeat,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.CurrentStage = Stage(currentStage)
	job.CancelRequested = cancelRequested != 0
	if err := json.Unmarshal([]byte(stagesJSON), &job.Stages); err != nil {
		return nil, fmt.Errorf("decode stages: %w", err)
	}
	if securityReport.Valid && securityReport.String != "" {
		job.SecurityReport = json.RawMessage(securityReport.String)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &result
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastHeartbeat.Valid && lastHeartbeat.String != "" {
		hb, err := parseTime(lastHeartbeat.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_heartbeat: %w", err)
		}
		job.LastHeartbeat = &hb
	}
	return &job, nil
}

func marshalStages(stages map[Stage]*StageRecord) (string, error) {
	if len(stages) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(stages)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableJSON(result *Result) any {
	if result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil
	}
	return string(data)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
