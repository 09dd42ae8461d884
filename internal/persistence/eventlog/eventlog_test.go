package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"emberhall.gg/internal/session"
)

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := []session.HistoryEntry{
		{Seq: 1, Version: 1, Kind: "action", Actor: "p1", Detail: map[string]any{"type": "strike", "target": "M1"}, TS: ts},
		{Seq: 2, Version: 1, Kind: "turn_timeout", Actor: "p2", TS: ts.Add(30 * time.Second)},
		{Seq: 3, Version: 2, Kind: "session_ended", Detail: map[string]any{"result": "victory"}, TS: ts.Add(time.Minute)},
	}
	if err := a.ArchiveSession("sess-1", entries); err != nil {
		t.Fatalf("archive: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "session-*-sess-1.jsonl.zst"))
	if err != nil || len(files) != 1 {
		t.Fatalf("archive files = %v (err %v)", files, err)
	}

	got, err := ReadSession(files[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entry count = %d, want 3", len(got))
	}
	if got[0].Actor != "p1" || got[1].Kind != "turn_timeout" || !got[2].TS.Equal(ts.Add(time.Minute)) {
		t.Fatalf("entries = %+v", got)
	}
	detail, _ := got[2].Detail.(map[string]any)
	if detail["result"] != "victory" {
		t.Fatalf("detail = %v", got[2].Detail)
	}
}

func TestArchiveSkipsEmptyHistory(t *testing.T) {
	dir := t.TempDir()
	a := New(dir)
	if err := a.ArchiveSession("sess-1", nil); err != nil {
		t.Fatalf("archive: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("empty history still produced a file: %v", entries)
	}
}
