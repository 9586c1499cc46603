package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/obseal/internal/events"
	"github.com/TheMichaelB/obseal/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *events.Logger
}

// NewSQLiteStore opens or creates the journal database.
func NewSQLiteStore(dbPath string, logger *events.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		logger: logger.WithField("component", "sqlite_journal"),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS schema_info (
        version INTEGER PRIMARY KEY
    );

    CREATE TABLE IF NOT EXISTS jobs (
        id TEXT PRIMARY KEY,
        direction TEXT NOT NULL,
        source TEXT NOT NULL,
        output TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL,
        error_kind TEXT NOT NULL DEFAULT '',
        error_message TEXT NOT NULL DEFAULT '',
        size_before INTEGER NOT NULL DEFAULT 0,
        size_after INTEGER NOT NULL DEFAULT 0,
        started_at INTEGER NOT NULL,
        finished_at INTEGER NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_jobs_finished ON jobs(finished_at);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO schema_info (version) VALUES (?)",
		CurrentSchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return nil
}

// Record inserts or replaces a job record.
func (s *SQLiteStore) Record(rec *models.JobRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: record without id", models.ErrInvalidJob)
	}

	s.logger.WithFields(map[string]interface{}{
		"job_id": rec.ID,
		"status": rec.Status,
	}).Debug("Recording job")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
        INSERT OR REPLACE INTO jobs (
            id, direction, source, output, status, error_kind, error_message,
            size_before, size_after, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		rec.ID, string(rec.Direction), rec.Source, rec.Output, string(rec.Status),
		string(rec.ErrorKind), rec.ErrorMessage, rec.SizeBefore, rec.SizeAfter,
		toMillis(rec.StartedAt), toMillis(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return tx.Commit()
}

const selectColumns = `
    SELECT id, direction, source, output, status, error_kind, error_message,
           size_before, size_after, started_at, finished_at
    FROM jobs`

// Get returns the record for id.
func (s *SQLiteStore) Get(id string) (*models.JobRecord, error) {
	row := s.db.QueryRow(selectColumns+" WHERE id = ?", id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}

	return rec, nil
}

// List returns records newest first.
func (s *SQLiteStore) List(opts ListOptions) ([]*models.JobRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if opts.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, string(opts.Direction))
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var records []*models.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Prune deletes records that finished before the cutoff.
func (s *SQLiteStore) Prune(before time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM jobs WHERE finished_at < ?", toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	s.logger.WithField("removed", n).Info("Pruned job history")
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*models.JobRecord, error) {
	var (
		rec               models.JobRecord
		direction, status string
		kind              string
		started, finished int64
	)

	err := row.Scan(
		&rec.ID, &direction, &rec.Source, &rec.Output, &status, &kind,
		&rec.ErrorMessage, &rec.SizeBefore, &rec.SizeAfter, &started, &finished,
	)
	if err != nil {
		return nil, err
	}

	rec.Direction = models.Direction(direction)
	rec.Status = models.JobStatus(status)
	rec.ErrorKind = models.ErrorKind(kind)
	rec.StartedAt = time.UnixMilli(started).UTC()
	rec.FinishedAt = time.UnixMilli(finished).UTC()

	return &rec, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
