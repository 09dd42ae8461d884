// Package store persists session checkpoints and event history to sqlite.
// Writes go through a single writer goroutine fed by a buffered channel, so
// the session actors never block on disk; failures are retried with backoff
// and in-memory state stays authoritative throughout.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"

	"emberhall.gg/internal/session"
	"emberhall.gg/internal/sim"
)

var ErrNotFound = errors.New("store: session not found")

const (
	writeAttempts = 3
	retryBackoff  = 100 * time.Millisecond
)

type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger

	ch   chan session.SaveRecord
	wg   sync.WaitGroup
	once sync.Once

	// mu orders SaveAsync sends against Close closing ch.
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func OpenSQLite(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:  db,
		log: log.With().Str("comp", "store").Logger(),
		// Buffered for bursty checkpoint writes across many sessions.
		ch: make(chan session.SaveRecord, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL for the append-style workload; NORMAL durability is fine for a
	// recovery aid.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			join_code TEXT NOT NULL,
			status TEXT NOT NULL,
			version INTEGER NOT NULL,
			state_json TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			version INTEGER NOT NULL,
			kind TEXT NOT NULL,
			actor TEXT,
			detail_json TEXT,
			ts TEXT NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_version ON events(session_id, version);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// SaveAsync queues one durability write. Never blocks: if the writer falls
// far enough behind to fill the buffer, the record is dropped and counted.
func (s *SQLiteStore) SaveAsync(rec session.SaveRecord) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports writes lost to backpressure, for metrics.
func (s *SQLiteStore) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteStore) loop() {
	for rec := range s.ch {
		var err error
		for attempt := 1; attempt <= writeAttempts; attempt++ {
			if err = s.write(rec); err == nil {
				break
			}
			s.log.Warn().Err(err).Str("session", rec.SessionID).Int("attempt", attempt).Msg("store write failed")
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
		if err != nil {
			s.log.Error().Err(err).Str("session", rec.SessionID).Msg("store write abandoned")
		}
	}
}

func (s *SQLiteStore) write(rec session.SaveRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if rec.State != nil {
		stateJSON, err := json.Marshal(rec.State)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO sessions(session_id,join_code,status,version,state_json,updated_at) VALUES(?,?,?,?,?,?)
			 ON CONFLICT(session_id) DO UPDATE SET status=excluded.status, version=excluded.version,
			   state_json=excluded.state_json, updated_at=excluded.updated_at`,
			rec.SessionID, rec.JoinCode, rec.Status, int64(rec.Version), string(stateJSON), now,
		)
		if err != nil {
			return err
		}
	} else {
		_, err = tx.Exec(
			`INSERT INTO sessions(session_id,join_code,status,version,state_json,updated_at) VALUES(?,?,?,?,NULL,?)
			 ON CONFLICT(session_id) DO UPDATE SET status=excluded.status, version=excluded.version,
			   updated_at=excluded.updated_at`,
			rec.SessionID, rec.JoinCode, rec.Status, int64(rec.Version), now,
		)
		if err != nil {
			return err
		}
	}

	for _, e := range rec.Events {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT OR REPLACE INTO events(session_id,seq,version,kind,actor,detail_json,ts) VALUES(?,?,?,?,?,?,?)`,
			rec.SessionID, int64(e.Seq), int64(e.Version), e.Kind, e.Actor, string(detail), e.TS.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SavedSession is what Load recovers: the last checkpointed state plus the
// session's full persisted event history.
type SavedSession struct {
	SessionID string
	JoinCode  string
	Status    string
	Version   uint64
	State     sim.State
	Events    []session.HistoryEntry
}

// Load reads a session back. Reads run on the caller's goroutine; sqlite
// serializes them against the writer.
func (s *SQLiteStore) Load(sessionID string) (SavedSession, error) {
	var out SavedSession
	var stateJSON sql.NullString
	row := s.db.QueryRow(
		`SELECT session_id, join_code, status, version, state_json FROM sessions WHERE session_id = ?`,
		sessionID,
	)
	var version int64
	if err := row.Scan(&out.SessionID, &out.JoinCode, &out.Status, &version, &stateJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, ErrNotFound
		}
		return out, err
	}
	out.Version = uint64(version)
	if stateJSON.Valid && stateJSON.String != "" {
		if err := json.Unmarshal([]byte(stateJSON.String), &out.State); err != nil {
			return out, fmt.Errorf("decode state: %w", err)
		}
	}

	rows, err := s.db.Query(
		`SELECT seq, version, kind, actor, detail_json, ts FROM events WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var e session.HistoryEntry
		var seq, ver int64
		var actor, detail sql.NullString
		var ts string
		if err := rows.Scan(&seq, &ver, &e.Kind, &actor, &detail, &ts); err != nil {
			return out, err
		}
		e.Seq = uint64(seq)
		e.Version = uint64(ver)
		e.Actor = actor.String
		if detail.Valid && detail.String != "" && detail.String != "null" {
			var d any
			if err := json.Unmarshal([]byte(detail.String), &d); err == nil {
				e.Detail = d
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.TS = t
		}
		out.Events = append(out.Events, e)
	}
	return out, rows.Err()
}

// Close drains pending writes and shuts the database down.
func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
