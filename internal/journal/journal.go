// Package journal records delivered change notifications in a SQLite
// database so they can be listed after the watcher exits.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/microsoft/wil-sub001/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS changes (
	id TEXT PRIMARY KEY,
	watch_id TEXT NOT NULL,
	path TEXT NOT NULL,
	kind TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS changes_recorded_at ON changes(recorded_at);
CREATE INDEX IF NOT EXISTS changes_path ON changes(path);
`

// DefaultLimit is used by List when Filter.Limit is not positive.
const DefaultLimit = 50

// Entry is one delivered change.
type Entry struct {
	ID         string
	WatchID    string
	Path       string
	Kind       string
	RecordedAt time.Time
}

// Filter narrows List.
type Filter struct {
	// Path matches entries for exactly this path when non-empty.
	Path string
	// Kind matches entries of this change kind when non-empty.
	Kind string
	// Limit caps the number of rows. Newest rows are returned first.
	Limit int
}

// Journal is safe for concurrent use.
type Journal struct {
	db   *sql.DB
	path string
}

// Open opens or creates the journal at path, creating parent directories.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	log.Debug(log.CatJournal, "Opening journal", "path", path)
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		log.ErrorErr(log.CatJournal, "Failed to open journal", err, "path", path)
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		log.ErrorErr(log.CatJournal, "Failed to create schema", err, "path", path)
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	log.Info(log.CatJournal, "Journal ready", "path", path)
	return &Journal{db: db, path: path}, nil
}

// dsn builds a file: URI for path. Characters such as ? and # in the path
// are escaped so they are not read as query or fragment.
func dsn(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{
		Scheme:   "file",
		OmitHost: true,
		Path:     filepath.ToSlash(path),
		RawQuery: "_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)",
	}
	return u.String()
}

// Path returns the database file location.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores e, filling in ID and RecordedAt when they are zero, and
// returns the stored entry.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.WatchID == "" || e.Path == "" || e.Kind == "" {
		return Entry{}, errors.New("entry needs a watch id, path and kind")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	e.RecordedAt = e.RecordedAt.UTC()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO changes (id, watch_id, path, kind, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.WatchID, e.Path, e.Kind, e.RecordedAt.UnixNano(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("recording change: %w", err)
	}
	return e, nil
}

// List returns matching entries, newest first.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	query := `SELECT id, watch_id, path, kind, recorded_at FROM changes WHERE 1=1`
	var args []any
	if f.Path != "" {
		query += ` AND path = ?`
		args = append(args, f.Path)
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	query += ` ORDER BY recorded_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &e.WatchID, &e.Path, &e.Kind, &at); err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}
		// Stored as Unix nanoseconds so that ORDER BY sorts by time.
		e.RecordedAt = time.Unix(0, at).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}
	return entries, nil
}

// Count returns the number of recorded entries.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM changes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting changes: %w", err)
	}
	return n, nil
}
