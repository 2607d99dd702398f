package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store represents the SQLite detection history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs
// migrations. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := "file::memory:?_foreign_keys=on"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time; this also keeps an in-memory database on a
	// single connection.
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertDetection records d. An empty ID is filled with a new UUID and a
// zero DetectedAt with the current time.
func (s *Store) InsertDetection(d *Detection) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DetectedAt.IsZero() {
		d.DetectedAt = time.Now()
	}
	if d.Length == 0 {
		d.Length = len([]rune(d.Sequence))
	}

	_, err := s.db.Exec(`
		INSERT INTO detections (id, run_id, sequence, length, target, source, detected_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, nullString(d.RunID), d.Sequence, d.Length, d.Target, d.Source, d.DetectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// GetDetection retrieves a detection by ID.
func (s *Store) GetDetection(id string) (*Detection, error) {
	row := s.db.QueryRow(`
		SELECT id, run_id, sequence, length, target, source, detected_ns
		FROM detections WHERE id = ?`, id)

	d, err := scanDetection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get detection: %w", err)
	}
	return d, nil
}

// ListDetections returns detections matching opts, newest first.
func (s *Store) ListDetections(opts ListOptions) ([]Detection, error) {
	var (
		where []string
		args  []any
	)
	if !opts.Since.IsZero() {
		where = append(where, "detected_ns >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Sequence != "" {
		where = append(where, "sequence = ?")
		args = append(args, opts.Sequence)
	}
	if opts.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, opts.RunID)
	}

	query := "SELECT id, run_id, sequence, length, target, source, detected_ns FROM detections"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY detected_ns DESC, rowid DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// DetectionsSince returns every detection at or after t, newest first.
func (s *Store) DetectionsSince(t time.Time) ([]Detection, error) {
	return s.ListDetections(ListOptions{Since: t})
}

// CountDetections returns the number of stored detections.
func (s *Store) CountDetections() (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM detections").Scan(&n); err != nil {
		return 0, fmt.Errorf("count detections: %w", err)
	}
	return n, nil
}

// Prune deletes detections older than before and returns how many were
// removed. Finished runs left without detections are removed too.
func (s *Store) Prune(before time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM detections WHERE detected_ns < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune detections: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune detections: %w", err)
	}

	if _, err := tx.Exec(`
		DELETE FROM runs
		WHERE stopped_ns IS NOT NULL AND stopped_ns < ?
		  AND id NOT IN (SELECT run_id FROM detections WHERE run_id IS NOT NULL)`,
		before.UnixNano(),
	); err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return n, nil
}

// StartRun records the start of a daemon run.
func (s *Store) StartRun(source, config string) (*Run, error) {
	r := &Run{
		ID:        uuid.NewString(),
		Source:    source,
		Config:    config,
		StartedAt: time.Now(),
	}
	_, err := s.db.Exec(
		"INSERT INTO runs (id, source, config, started_ns) VALUES (?, ?, ?, ?)",
		r.ID, r.Source, r.Config, r.StartedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// StopRun marks a run finished.
func (s *Store) StopRun(id string, at time.Time) error {
	res, err := s.db.Exec("UPDATE runs SET stopped_ns = ? WHERE id = ?", at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("stop run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	query := "SELECT id, source, config, started_ns, stopped_ns FROM runs ORDER BY started_ns DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			started int64
			stopped sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Config, &started, &stopped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		if stopped.Valid {
			t := time.Unix(0, stopped.Int64)
			r.StoppedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDetection(row scanner) (*Detection, error) {
	var (
		d     Detection
		runID sql.NullString
		ns    int64
	)
	if err := row.Scan(&d.ID, &runID, &d.Sequence, &d.Length, &d.Target, &d.Source, &ns); err != nil {
		return nil, err
	}
	d.RunID = runID.String
	d.DetectedAt = time.Unix(0, ns)
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
