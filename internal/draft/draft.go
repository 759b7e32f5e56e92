// Package draft is the best-effort local persistence of in-progress attempt
// state. Saving swallows storage failures: losing a resume draft is
// acceptable degradation, stalling the attempt over it is not, so Save
// returns nothing and the controller never branches on it.
package draft

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shoaibmiaan/viva/internal/exam"
)

// Store persists per-prompt snapshots keyed by attempt.
type Store interface {
	// Save writes one snapshot. It cannot fail from the caller's view.
	Save(attemptID, promptKey string, snap exam.Snapshot)
	// Load returns the snapshot for one prompt, if any.
	Load(attemptID, promptKey string) (exam.Snapshot, bool)
	// LoadAttempt returns every saved snapshot for the attempt, by prompt key.
	LoadAttempt(attemptID string) map[string]exam.Snapshot
	// Clear removes every snapshot for the attempt.
	Clear(attemptID string)
	Close() error
}

// Open returns a SQLite-backed store at path. It never fails: when the
// database cannot be opened the returned store is Discard and drafts are
// simply not kept for this run.
func Open(path string, logger *slog.Logger) Store {
	store, err := openSQLite(path, logger)
	if err != nil {
		if logger != nil {
			logger.Debug("draft store unavailable; drafts disabled", "path", path, "error", err.Error())
		}
		return Discard{}
	}
	return store
}

// Discard is the no-op store used when local persistence is unavailable.
type Discard struct{}

func (Discard) Save(string, string, exam.Snapshot) {}

func (Discard) Load(string, string) (exam.Snapshot, bool) { return exam.Snapshot{}, false }
func (Discard) LoadAttempt(string) map[string]exam.Snapshot {
	return map[string]exam.Snapshot{}
}
func (Discard) Clear(string) {}

func (Discard) Close() error { return nil }

type sqliteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func openSQLite(path string, logger *slog.Logger) (*sqliteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create draft directory: %w", err)
	}

	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open draft database: %w", err)
	}
	// One writer at a time keeps SQLITE_BUSY out of the hot path.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping draft database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		attempt_id TEXT NOT NULL,
		prompt_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (attempt_id, prompt_key)
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_attempt ON drafts(attempt_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize draft schema: %w", err)
	}

	return &sqliteStore{db: db, logger: logger}, nil
}

func (s *sqliteStore) Save(attemptID, promptKey string, snap exam.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		s.logDebug("draft snapshot encode failed", "error", err.Error())
		return
	}

	_, err = s.db.Exec(`
		INSERT INTO drafts (attempt_id, prompt_key, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (attempt_id, prompt_key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, attemptID, promptKey, string(payload), time.Now().UnixMilli())
	if err != nil {
		s.logDebug("draft save failed", "attempt", attemptID, "prompt", promptKey, "error", err.Error())
	}
}

func (s *sqliteStore) Load(attemptID, promptKey string) (exam.Snapshot, bool) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM drafts WHERE attempt_id = ? AND prompt_key = ?`,
		attemptID, promptKey,
	).Scan(&payload)
	if err != nil {
		return exam.Snapshot{}, false
	}

	var snap exam.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		s.logDebug("draft snapshot decode failed", "prompt", promptKey, "error", err.Error())
		return exam.Snapshot{}, false
	}
	return snap, true
}

func (s *sqliteStore) LoadAttempt(attemptID string) map[string]exam.Snapshot {
	out := map[string]exam.Snapshot{}

	rows, err := s.db.Query(
		`SELECT prompt_key, payload FROM drafts WHERE attempt_id = ?`,
		attemptID,
	)
	if err != nil {
		s.logDebug("draft load failed", "attempt", attemptID, "error", err.Error())
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			continue
		}
		var snap exam.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			continue
		}
		out[key] = snap
	}
	return out
}

func (s *sqliteStore) Clear(attemptID string) {
	if _, err := s.db.Exec(`DELETE FROM drafts WHERE attempt_id = ?`, attemptID); err != nil {
		s.logDebug("draft clear failed", "attempt", attemptID, "error", err.Error())
	}
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) logDebug(msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(msg, args...)
}
