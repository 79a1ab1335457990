package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"vigilintel/internal/ports"
)

// PostgresStateStore persists the connector watermark mapping in
// Postgres, one row per connector.
type PostgresStateStore struct {
	db          *sql.DB
	connectorID string
	builder     sq.StatementBuilderType
}

var _ ports.StateStore = (*PostgresStateStore)(nil)

// Open connects to Postgres and ensures the state table exists.
func Open(ctx context.Context, dsn, connectorID string) (*PostgresStateStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := NewPostgresStateStore(db, connectorID)
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStateStore wires an existing sql.DB.
func NewPostgresStateStore(db *sql.DB, connectorID string) *PostgresStateStore {
	return &PostgresStateStore{
		db:          db,
		connectorID: connectorID,
		builder:     sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Close releases the underlying connection pool.
func (s *PostgresStateStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStateStore) ensureSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS connector_state (
	              connector_id TEXT PRIMARY KEY,
	              state        JSONB NOT NULL,
	              updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	          )`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

// Get returns the persisted watermark mapping, or an empty map when the
// connector has never written state.
func (s *PostgresStateStore) Get(ctx context.Context) (map[string]string, error) {
	if s.db == nil {
		return map[string]string{}, nil
	}

	query, args, err := s.builder.
		Select("state").
		From("connector_state").
		Where(sq.Eq{"connector_id": s.connectorID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build state query: %w", err)
	}

	var raw []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	state := map[string]string{}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}

// Set upserts the watermark mapping for this connector.
func (s *PostgresStateStore) Set(ctx context.Context, state map[string]string) error {
	if s.db == nil {
		return fmt.Errorf("state store has no database")
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	query, args, err := s.builder.
		Insert("connector_state").
		Columns("connector_id", "state").
		Values(s.connectorID, raw).
		Suffix(`ON CONFLICT (connector_id) DO UPDATE
	            SET state = EXCLUDED.state,
	                updated_at = NOW()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build state upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}
