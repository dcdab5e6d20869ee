// Package usage persists a per-call ledger of provider traffic so operators
// can inspect consumption across restarts.
package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/isaacmorgado/clauded/internal/dispatch"
)

// Outcome values recorded per call.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Record is one ledger row.
type Record struct {
	Timestamp    time.Time
	Provider     dispatch.Provider
	Model        string
	InputTokens  int
	OutputTokens int
	Outcome      string
	ErrorType    string
	Compacted    bool
}

// Summary aggregates the ledger per provider.
type Summary struct {
	Provider     dispatch.Provider
	Calls        int
	Errors       int
	InputTokens  int
	OutputTokens int
}

// Store is a sqlite-backed ledger. A nil *Store is a valid no-op sink, so
// deployments can leave usage accounting off.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path, ensuring the parent
// directory exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create usage db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping usage db at %s: %w", path, err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			error_type TEXT,
			compacted INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage(provider);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init usage schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Add appends one row. Errors are returned but callers are expected to log
// and continue; the ledger never blocks a response.
func (s *Store) Add(r Record) error {
	if s == nil {
		return nil
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	compacted := 0
	if r.Compacted {
		compacted = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO usage (timestamp, provider, model, input_tokens, output_tokens, outcome, error_type, compacted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.Unix(), string(r.Provider), r.Model, r.InputTokens, r.OutputTokens, r.Outcome, r.ErrorType, compacted,
	)
	return err
}

// Summaries aggregates the ledger grouped by provider.
func (s *Store) Summaries() ([]Summary, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT provider,
		       COUNT(*),
		       SUM(CASE WHEN outcome != 'success' THEN 1 ELSE 0 END),
		       SUM(input_tokens),
		       SUM(output_tokens)
		FROM usage
		GROUP BY provider
		ORDER BY provider
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var provider string
		if err := rows.Scan(&provider, &s.Calls, &s.Errors, &s.InputTokens, &s.OutputTokens); err != nil {
			return nil, err
		}
		s.Provider = dispatch.Provider(provider)
		out = append(out, s)
	}
	return out, rows.Err()
}
