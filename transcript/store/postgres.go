package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sweetpotato0/mcp-bridge/config"
	bridgeerrors "github.com/sweetpotato0/mcp-bridge/errors"
	"github.com/sweetpotato0/mcp-bridge/transcript"
)

// PostgresStore implements transcript.Store using PostgreSQL. Messages are
// stored as a JSONB document alongside the invocation metadata.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns the defaults used when config is nil.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "mcp_bridge",
		SSLMode:  "disable",
	}
}

// NewPostgresStore creates a PostgreSQL-backed transcript store.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	if err := config.ValidatePostgresConfig(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createTable(context.Background()); err != nil {
		return nil, fmt.Errorf("create transcripts table: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS transcripts (
		id VARCHAR(255) PRIMARY KEY,
		model VARCHAR(255) NOT NULL,
		messages JSONB NOT NULL,
		turns INT NOT NULL,
		outcome TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_completed_at ON transcripts(completed_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Save stores a transcript record.
func (s *PostgresStore) Save(ctx context.Context, t *transcript.Transcript) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("transcript must have an id")
	}

	messages, err := json.Marshal(t.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}

	query := `
	INSERT INTO transcripts (id, model, messages, turns, outcome, started_at, completed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		model = EXCLUDED.model,
		messages = EXCLUDED.messages,
		turns = EXCLUDED.turns,
		outcome = EXCLUDED.outcome,
		started_at = EXCLUDED.started_at,
		completed_at = EXCLUDED.completed_at
	`
	_, err = s.db.ExecContext(ctx, query, t.ID, t.Model, messages, t.Turns, t.Outcome, t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// Get retrieves a transcript by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*transcript.Transcript, error) {
	query := `SELECT id, model, messages, turns, outcome, started_at, completed_at FROM transcripts WHERE id = $1`

	t, err := scanTranscript(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transcript %s: %w", id, bridgeerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	return t, nil
}

// List returns the most recent transcripts, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*transcript.Transcript, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, model, messages, turns, outcome, started_at, completed_at
		FROM transcripts ORDER BY completed_at DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []*transcript.Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row rowScanner) (*transcript.Transcript, error) {
	var (
		t        transcript.Transcript
		messages []byte
	)
	if err := row.Scan(&t.ID, &t.Model, &messages, &t.Turns, &t.Outcome, &t.StartedAt, &t.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messages, &t.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	return &t, nil
}
