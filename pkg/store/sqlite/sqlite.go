// Package sqlite is a [store.Store] backed by a single SQLite file through
// the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/padelcore/padelcore/pkg/store"
)

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    title     TEXT    NOT NULL,
    date_ms   INTEGER NOT NULL,
    mime_type TEXT    NOT NULL DEFAULT '',
    media     BLOB    NOT NULL,
    analysis  TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_recordings_title ON recordings (title);
CREATE INDEX IF NOT EXISTS idx_recordings_date  ON recordings (date_ms);
`

// Store is a SQLite-backed recording store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. path may be ":memory:".
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save implements [store.Store].
func (s *Store) Save(ctx context.Context, rec store.Recording) (int64, error) {
	media := rec.Media
	if media == nil {
		media = []byte{}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (title, date_ms, mime_type, media, analysis)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Title, rec.Date.UnixMilli(), rec.MIMEType, media, rec.Analysis)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: save: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: save: last insert id: %w", err)
	}
	return id, nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context) ([]store.Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, date_ms, mime_type, analysis, length(media)
		FROM recordings
		ORDER BY date_ms DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	var out []store.Recording
	for rows.Next() {
		var (
			r      store.Recording
			dateMS int64
		)
		if err := rows.Scan(&r.ID, &r.Title, &dateMS, &r.MIMEType, &r.Analysis, &r.Size); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		r.Date = time.UnixMilli(dateMS).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	return out, nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id int64) (store.Recording, error) {
	var (
		r      store.Recording
		dateMS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, date_ms, mime_type, media, analysis
		FROM recordings WHERE id = ?`, id).
		Scan(&r.ID, &r.Title, &dateMS, &r.MIMEType, &r.Media, &r.Analysis)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Recording{}, store.ErrNotFound
	}
	if err != nil {
		return store.Recording{}, fmt.Errorf("sqlite store: get %d: %w", id, err)
	}
	r.Date = time.UnixMilli(dateMS).UTC()
	r.Size = int64(len(r.Media))
	return r, nil
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite store: delete %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite store: delete %d: %w", id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [store.Store].
func (s *Store) Close() error {
	return s.db.Close()
}
