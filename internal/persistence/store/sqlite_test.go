package store

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"emberhall.gg/internal/session"
	"emberhall.gg/internal/sim"
)

func openTemp(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return st
}

func TestSaveThenLoadAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	st := openTemp(t, path)

	state := sim.State{"counter": float64(3), "entities": []any{}}
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	st.SaveAsync(session.SaveRecord{
		SessionID: "sess-1",
		JoinCode:  "ABC234",
		Status:    "active",
		Version:   3,
		State:     state,
		Events: []session.HistoryEntry{
			{Seq: 1, Version: 1, Kind: "action", Actor: "p1", Detail: map[string]any{"type": "move"}, TS: ts},
			{Seq: 2, Version: 2, Kind: "turn_timeout", TS: ts.Add(time.Minute)},
		},
	})
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st = openTemp(t, path)
	defer st.Close()
	got, err := st.Load("sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.JoinCode != "ABC234" || got.Status != "active" || got.Version != 3 {
		t.Fatalf("loaded header = %+v", got)
	}
	if got.State["counter"] != float64(3) {
		t.Fatalf("loaded state = %v", got.State)
	}
	if len(got.Events) != 2 || got.Events[0].Actor != "p1" || got.Events[1].Kind != "turn_timeout" {
		t.Fatalf("loaded events = %+v", got.Events)
	}
	detail, _ := got.Events[0].Detail.(map[string]any)
	if detail["type"] != "move" {
		t.Fatalf("event detail = %v", got.Events[0].Detail)
	}
}

func TestCheckpointWithoutStateKeepsLastSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	st := openTemp(t, path)

	st.SaveAsync(session.SaveRecord{
		SessionID: "sess-1", JoinCode: "ABC234", Status: "active", Version: 1,
		State: sim.State{"counter": float64(1)},
	})
	// metadata-only write: version advances, snapshot stays
	st.SaveAsync(session.SaveRecord{
		SessionID: "sess-1", JoinCode: "ABC234", Status: "active", Version: 5,
	})
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st = openTemp(t, path)
	defer st.Close()
	got, err := st.Load("sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 5 {
		t.Fatalf("version = %d, want 5", got.Version)
	}
	if got.State["counter"] != float64(1) {
		t.Fatalf("snapshot lost on metadata-only write: %v", got.State)
	}
}

func TestWriterAbandonsBadRecordAndKeepsGoing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	st := openTemp(t, path)

	// NaN is not representable in JSON, so every write attempt for this
	// record fails and rolls back; the writer must retry, give up, and move
	// on to the next record.
	start := time.Now()
	st.SaveAsync(session.SaveRecord{
		SessionID: "sess-bad", JoinCode: "BAD234", Status: "active", Version: 1,
		Events: []session.HistoryEntry{
			{Seq: 1, Version: 1, Kind: "action", Detail: math.NaN(), TS: time.Now()},
		},
	})
	st.SaveAsync(session.SaveRecord{
		SessionID: "sess-good", JoinCode: "GOO234", Status: "active", Version: 2,
		State: sim.State{"counter": float64(7)},
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("SaveAsync blocked on a failing write for %v", elapsed)
	}
	if st.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", st.Dropped())
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st = openTemp(t, path)
	defer st.Close()
	if _, err := st.Load("sess-bad"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("abandoned record left partial rows: %v", err)
	}
	got, err := st.Load("sess-good")
	if err != nil {
		t.Fatalf("record behind the failing one was lost: %v", err)
	}
	if got.State["counter"] != float64(7) {
		t.Fatalf("loaded state = %v", got.State)
	}
}

func TestLoadUnknownSession(t *testing.T) {
	st := openTemp(t, filepath.Join(t.TempDir(), "sessions.db"))
	defer st.Close()
	if _, err := st.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveAsyncAfterCloseIsIgnored(t *testing.T) {
	st := openTemp(t, filepath.Join(t.TempDir(), "sessions.db"))
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// must not panic on the closed channel
	st.SaveAsync(session.SaveRecord{SessionID: "sess-1", JoinCode: "X", Status: "ended", Version: 1})
}

func TestSaveAsyncConcurrentWithClose(t *testing.T) {
	st := openTemp(t, filepath.Join(t.TempDir(), "sessions.db"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			st.SaveAsync(session.SaveRecord{
				SessionID: "sess-1", JoinCode: "ABC234", Status: "active", Version: uint64(i),
			})
		}
	}()
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	<-done
}
