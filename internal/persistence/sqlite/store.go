// Package sqlite stores player attributes in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"blockworld/server/internal/persistence"
	"blockworld/server/internal/persistence/sqlite/migrations"
	"blockworld/server/internal/world"
)

// Store is a persistence.Store backed by one SQLite file. Attributes are
// kept as a msgpack blob per player.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

var _ persistence.Store = (*Store)(nil)

// Open opens the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load returns the saved attributes for id, or persistence.ErrNotFound.
func (s *Store) Load(ctx context.Context, id string) (world.Attributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	var blob []byte
	err := s.sqlDB.QueryRowContext(ctx, "SELECT attributes FROM players WHERE name = ?", id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", id, err)
	}
	attrs, err := persistence.DecodeAttributes(blob)
	if err != nil {
		return nil, fmt.Errorf("decode player %s: %w", id, err)
	}
	return attrs, nil
}

// Save replaces the saved attributes for id.
func (s *Store) Save(ctx context.Context, id string, attrs world.Attributes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	blob, err := persistence.EncodeAttributes(attrs)
	if err != nil {
		return fmt.Errorf("encode player %s: %w", id, err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO players (name, attributes, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    attributes = excluded.attributes,
    updated_at = excluded.updated_at
`, id, blob, s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save player %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored players.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM players").Scan(&n); err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return n, nil
}
