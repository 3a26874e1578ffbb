package snapshot

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/veridical/pact/internal/canon"
	"github.com/veridical/pact/internal/state"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added run_id index for prune scans
const currentSchemaVersion = 1

// Store captures and restores cognitive state for rollback.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a snapshot database at the given path.
// Applies required pragmas and migrations automatically; idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to snapshot database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Snapshot captures a deep, content-addressed copy of the state before
// an action executes. Returns the snapshot ID (the hash of the
// canonical state bytes). Capturing an identical state twice returns
// the same ID and writes nothing new.
func (s *Store) Snapshot(ctx context.Context, st *state.State, runID string, createdSeq int64) (string, error) {
	blob, err := st.CanonicalBytes()
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	stateHash, err := st.Hash()
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}

	id := canon.HashBytes(canon.DomainSnapshot, blob)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, run_id, state, state_hash, created_seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, runID, blob, stateHash, createdSeq)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}

	return id, nil
}

// Restore deterministically reconstructs the exact captured state.
// The blob's content address is re-verified on the way out, so a
// corrupted row cannot masquerade as the original state.
func (s *Store) Restore(ctx context.Context, id string) (*state.State, error) {
	var blob []byte
	var stateHash string
	err := s.db.QueryRowContext(ctx, `
		SELECT state, state_hash FROM snapshots WHERE id = ?
	`, id).Scan(&blob, &stateHash)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("restore: snapshot %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", id, err)
	}

	if got := canon.HashBytes(canon.DomainSnapshot, blob); got != id {
		return nil, fmt.Errorf("restore snapshot %s: stored blob hashes to %s", id, got)
	}

	st, err := state.FromCanonicalBytes(blob)
	if err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", id, err)
	}

	restored, err := st.Hash()
	if err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", id, err)
	}
	if restored != stateHash {
		return nil, fmt.Errorf("restore snapshot %s: state hash %s does not match recorded %s", id, restored, stateHash)
	}

	return st, nil
}

// Count returns the number of live snapshots for a run.
func (s *Store) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM snapshots WHERE run_id = ?
	`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// Prune deletes all snapshots for a run. Callers must only invoke this
// after the run's audit pack has been assembled - snapshots are the
// replay material until then.
func (s *Store) Prune(ctx context.Context, runID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE run_id = ?
	`, runID)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots for run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots for run %s: %w", runID, err)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		// CREATE INDEX IF NOT EXISTS is safe - no-op if index exists
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}
