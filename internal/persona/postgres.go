package persona

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the voice_agents table. Personas are authored by
// another service; [PostgresStore.Migrate] exists for local development and
// tests.
const Schema = `
CREATE TABLE IF NOT EXISTS voice_agents (
    id          TEXT PRIMARY KEY,
    name        VARCHAR(100) NOT NULL,
    description VARCHAR(500) NOT NULL DEFAULT '',
    prompt      VARCHAR(2000) NOT NULL,
    voice       TEXT NOT NULL DEFAULT 'shimmer',
    user_id     TEXT,
    is_public   BOOLEAN NOT NULL DEFAULT false,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voice_agents_created ON voice_agents(created_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a read-only [Store] backed by the voice_agents table.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] that uses the given database
// connection or pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("persona: migrate: %w", err)
	}
	return nil
}

// List returns all personas, newest first. Rows that fail validation are
// skipped.
func (s *PostgresStore) List(ctx context.Context) ([]Persona, error) {
	const query = `
		SELECT id, name, description, prompt, voice
		FROM voice_agents
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("persona: list: %w", err)
	}
	defer rows.Close()

	var personas []Persona
	for rows.Next() {
		var p Persona
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Description, &p.SystemPrompt, &p.VoiceID); err != nil {
			return nil, fmt.Errorf("persona: list scan: %w", err)
		}
		if err := p.Validate(); err != nil {
			continue
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("persona: list: %w", err)
	}
	return personas, nil
}

// Get returns the persona with the given ID, or [ErrNotFound].
func (s *PostgresStore) Get(ctx context.Context, id string) (Persona, error) {
	const query = `
		SELECT id, name, description, prompt, voice
		FROM voice_agents
		WHERE id = $1`

	var p Persona
	err := s.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.DisplayName, &p.Description, &p.SystemPrompt, &p.VoiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Persona{}, ErrNotFound
		}
		return Persona{}, fmt.Errorf("persona: get %q: %w", id, err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, fmt.Errorf("persona: get %q: %w", id, err)
	}
	return p, nil
}
