// Package postgres is a PostgreSQL-backed [store.Store] using a pgx
// connection pool.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//	id, _ := s.Save(ctx, rec)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/padelcore/padelcore/pkg/store"
)

var _ store.Store = (*Store)(nil)

const ddlRecordings = `
CREATE TABLE IF NOT EXISTS recordings (
    id         BIGSERIAL    PRIMARY KEY,
    title      TEXT         NOT NULL,
    date       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    mime_type  TEXT         NOT NULL DEFAULT '',
    media      BYTEA        NOT NULL,
    analysis   TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_recordings_title ON recordings (title);
CREATE INDEX IF NOT EXISTS idx_recordings_date  ON recordings (date);
`

// Migrate creates the recordings table and its indexes if they do not exist.
// It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlRecordings); err != nil {
		return fmt.Errorf("postgres store: migrate recordings: %w", err)
	}
	return nil
}

// Store holds a single [pgxpool.Pool]. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Save implements [store.Store].
func (s *Store) Save(ctx context.Context, rec store.Recording) (int64, error) {
	const q = `
		INSERT INTO recordings (title, date, mime_type, media, analysis)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	media := rec.Media
	if media == nil {
		media = []byte{}
	}
	var id int64
	if err := s.pool.QueryRow(ctx, q, rec.Title, rec.Date, rec.MIMEType, media, rec.Analysis).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres store: save: %w", err)
	}
	return id, nil
}

// List implements [store.Store].
func (s *Store) List(ctx context.Context) ([]store.Recording, error) {
	const q = `
		SELECT id, title, date, mime_type, analysis, octet_length(media)
		FROM   recordings
		ORDER  BY date DESC, id DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Recording, error) {
		var r store.Recording
		err := row.Scan(&r.ID, &r.Title, &r.Date, &r.MIMEType, &r.Analysis, &r.Size)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return recs, nil
}

// Get implements [store.Store].
func (s *Store) Get(ctx context.Context, id int64) (store.Recording, error) {
	const q = `
		SELECT id, title, date, mime_type, media, analysis
		FROM   recordings
		WHERE  id = $1`

	var r store.Recording
	err := s.pool.QueryRow(ctx, q, id).Scan(&r.ID, &r.Title, &r.Date, &r.MIMEType, &r.Media, &r.Analysis)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Recording{}, store.ErrNotFound
	}
	if err != nil {
		return store.Recording{}, fmt.Errorf("postgres store: get %d: %w", id, err)
	}
	r.Size = int64(len(r.Media))
	return r, nil
}

// Delete implements [store.Store].
func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
