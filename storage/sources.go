package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transithub.dev/transithub/model"
)

// SourceStore tracks static data freshness per source.
type SourceStore struct {
	db *sql.DB
}

// EnsureRegistered creates the freshness row for a source if it does
// not exist yet. The epoch timestamp makes a fresh source look
// maximally stale, so the first freshness check triggers an import.
func (s *SourceStore) EnsureRegistered(ctx context.Context, src model.Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO static.source (id, updated_at)
		VALUES ($1, 'epoch'::timestamptz)
		ON CONFLICT (id) DO NOTHING`,
		string(src))
	if err != nil {
		return fmt.Errorf("registering source %s: %w", src, err)
	}
	return nil
}

// UpdatedAt returns when the source's static data was last imported.
// An unregistered source reads as the zero time.
func (s *SourceStore) UpdatedAt(ctx context.Context, src model.Source) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM static.source WHERE id = $1`,
		string(src)).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading source %s: %w", src, err)
	}
	return t, nil
}

// Touch marks the source's static data as freshly imported.
func (s *SourceStore) Touch(ctx context.Context, src model.Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO static.source (id, updated_at)
		VALUES ($1, now())
		ON CONFLICT (id) DO UPDATE SET updated_at = now()`,
		string(src))
	if err != nil {
		return fmt.Errorf("touching source %s: %w", src, err)
	}
	return nil
}
