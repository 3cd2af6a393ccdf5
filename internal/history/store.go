package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"campus_call/native/internal/domain"

	"github.com/pion/logging"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory ledger.
const MemoryPath = ":memory:"

// Store is the call ledger: one row per finished call session, kept for
// post-hoc debugging of negotiation and recovery.
// It implements domain.CallRecorder.
type Store struct {
	db  *sql.DB
	log logging.LeveledLogger
	mu  sync.Mutex
}

// Open opens or creates the ledger at path.
func Open(path string, lf logging.LoggerFactory) (*Store, error) {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps an in-memory database alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id      TEXT NOT NULL,
			local_id     TEXT NOT NULL,
			remote_id    TEXT NOT NULL,
			outgoing     INTEGER NOT NULL DEFAULT 0,
			final_state  TEXT NOT NULL,
			reason       TEXT DEFAULT '',
			ice_restarts INTEGER DEFAULT 0,
			reinits      INTEGER DEFAULT 0,
			started_at   INTEGER NOT NULL,
			ended_at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS calls_ended_at ON calls(ended_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	s := &Store{db: db, log: lf.NewLogger("history")}
	s.log.Infof("call ledger at %s", path)
	return s, nil
}

// Record appends a finished call.
func (s *Store) Record(ctx context.Context, rec domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (call_id, local_id, remote_id, outgoing, final_state, reason,
			ice_restarts, reinits, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, string(rec.Local), string(rec.Remote), boolToInt(rec.Outgoing),
		string(rec.FinalState), rec.Reason, rec.ICERestarts, rec.Reinits,
		rec.StartedAt.UnixMilli(), rec.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert call %s: %w", rec.CallID, err)
	}
	s.log.Debugf("recorded call %s (%s)", rec.CallID, rec.Reason)
	return nil
}

// Recent returns up to limit calls, most recently ended first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, local_id, remote_id, outgoing, final_state, reason,
			ice_restarts, reinits, started_at, ended_at
		FROM calls
		ORDER BY ended_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []domain.CallRecord
	for rows.Next() {
		var (
			rec                domain.CallRecord
			local, remote, st  string
			outgoing           int
			startedAt, endedAt int64
		)
		if err := rows.Scan(&rec.CallID, &local, &remote, &outgoing, &st, &rec.Reason,
			&rec.ICERestarts, &rec.Reinits, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		rec.Local = domain.ParticipantID(local)
		rec.Remote = domain.ParticipantID(remote)
		rec.Outgoing = outgoing != 0
		rec.FinalState = domain.CallState(st)
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.EndedAt = time.UnixMilli(endedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
