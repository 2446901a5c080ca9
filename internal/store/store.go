// Package store is the durable state layer for the governance core: agents,
// signal sets, risk scores, the action-policy matrix, the approval ledger,
// and watchdog run records. It is plain persistence — lifecycle semantics
// live in the policy, approval, engine, and watchdog packages.
//
// Two invariants are enforced at the storage level because the callers'
// correctness depends on them:
//   - at most one pending approval per (agent, action), via a partial
//     unique index honored by conditional insert;
//   - signal updates are conditional on source timestamp, so out-of-order
//     ingestion can never overwrite newer data with older.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePending is returned when inserting a pending approval
	// would violate the one-pending-per-(agent,action) invariant.
	ErrDuplicatePending = errors.New("pending approval already exists")
)

// Store wraps a sqlite database holding all governance state.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "bandwatch.db")
	}
	return filepath.Join(home, ".bandwatch", "bandwatch.db")
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id     TEXT PRIMARY KEY,
			platform     TEXT NOT NULL DEFAULT '',
			project_id   TEXT NOT NULL DEFAULT '',
			location     TEXT NOT NULL DEFAULT '',
			owner_email  TEXT NOT NULL DEFAULT '',
			dlp_template TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			agent_id       TEXT PRIMARY KEY,
			data_class     TEXT NOT NULL DEFAULT '',
			output_scope   TEXT NOT NULL DEFAULT '[]',
			autonomy       TEXT NOT NULL DEFAULT '',
			reach          TEXT NOT NULL DEFAULT '',
			external_tools TEXT NOT NULL DEFAULT '[]',
			source_ts      TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scores (
			agent_id    TEXT PRIMARY KEY,
			score       INTEGER NOT NULL,
			band        TEXT NOT NULL,
			reasons     TEXT NOT NULL DEFAULT '[]',
			computed_at TEXT NOT NULL,
			signal_ts   TEXT NOT NULL DEFAULT '',
			config_hash TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS action_rules (
			action_name   TEXT PRIMARY KEY,
			description   TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL,
			allow_green   INTEGER NOT NULL,
			allow_amber   INTEGER NOT NULL,
			allow_red     INTEGER NOT NULL,
			approve_green INTEGER NOT NULL,
			approve_amber INTEGER NOT NULL,
			approve_red   INTEGER NOT NULL,
			version       INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT NOT NULL,
			last_seen_at  TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id     TEXT NOT NULL,
			action       TEXT NOT NULL,
			band         TEXT NOT NULL,
			status       TEXT NOT NULL,
			rule_version INTEGER NOT NULL DEFAULT 0,
			requested_by TEXT NOT NULL DEFAULT '',
			requested_at TEXT NOT NULL,
			decided_by   TEXT NOT NULL DEFAULT '',
			decided_at   TEXT,
			note         TEXT NOT NULL DEFAULT '',
			request_json TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_approvals_one_pending
			ON approvals(agent_id, action) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status
			ON approvals(status, requested_at)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_agent_action
			ON approvals(agent_id, action, requested_at)`,
		`CREATE TABLE IF NOT EXISTS watchdog_runs (
			id          TEXT PRIMARY KEY,
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			rescored    INTEGER NOT NULL,
			changes     INTEGER NOT NULL,
			drift       TEXT NOT NULL DEFAULT '[]'
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- shared helpers ---

// timeLayout keeps the fractional seconds fixed-width, so lexicographic
// order of stored timestamps matches chronological order. RFC3339Nano trims
// trailing zeros and would break the source_ts comparison in PutSignals
// ("...00Z" sorts after "...00.5Z").
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalJSON(v any) string {
	if v == nil {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a sqlite unique-constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
