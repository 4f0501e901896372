package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/fairing-extract/pkg/fairing"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema creates the checkpoint table.
const schema = `
	CREATE TABLE IF NOT EXISTS extract_checkpoints (
		stream     TEXT PRIMARY KEY,
		last_id    BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`

// PostgresConfig holds configuration for the PostgreSQL checkpoint store.
type PostgresConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxConns is the maximum pool size. Zero keeps the pgxpool default.
	MaxConns int32

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
}

// PostgresStore persists checkpoints in the extract_checkpoints table.
type PostgresStore struct {
	db    *pgxpool.Pool
	owned bool
}

// NewPostgresStore connects, verifies the connection and creates the table.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &PostgresStore{db: pool, owned: true}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromPool uses an existing pool. Close leaves it open.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

// EnsureSchema creates the checkpoint table if it does not exist.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Load implements Store.
func (p *PostgresStore) Load(ctx context.Context, stream string) (State, error) {
	query := `
		SELECT last_id, updated_at
		FROM extract_checkpoints
		WHERE stream = $1`

	state := State{Stream: stream}
	var lastID int64
	err := p.db.QueryRow(ctx, query, stream).Scan(&lastID, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load checkpoint: %w", err)
	}
	state.LastID = fairing.RecordID(lastID)
	state.UpdatedAt = state.UpdatedAt.UTC()
	return state, nil
}

// Save implements Store. The upsert never lowers last_id.
func (p *PostgresStore) Save(ctx context.Context, state State) error {
	if err := validStream(state.Stream); err != nil {
		return err
	}
	query := `
		INSERT INTO extract_checkpoints (stream, last_id, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (stream)
		DO UPDATE SET
			last_id = EXCLUDED.last_id,
			updated_at = EXCLUDED.updated_at
		WHERE extract_checkpoints.last_id <= EXCLUDED.last_id`

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	tag, err := p.db.Exec(ctx, query, state.Stream, int64(state.LastID), updatedAt.UTC())
	if err != nil {
		savesTotal.WithLabelValues("postgres", "error").Inc()
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		savesTotal.WithLabelValues("postgres", "stale").Inc()
		return fmt.Errorf("%w: stream %s, saving %d", ErrStaleState, state.Stream, state.LastID)
	}
	savesTotal.WithLabelValues("postgres", "ok").Inc()
	return nil
}

// Delete implements Store.
func (p *PostgresStore) Delete(ctx context.Context, stream string) error {
	if _, err := p.db.Exec(ctx, "DELETE FROM extract_checkpoints WHERE stream = $1", stream); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Store. Pools passed to NewPostgresStoreFromPool stay open.
func (p *PostgresStore) Close() error {
	if p.owned {
		p.db.Close()
	}
	return nil
}
