package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"emberhall.gg/internal/protocol"
)

func newTestRegistry(t *testing.T) (*Registry, *FakeClock) {
	t.Helper()
	clock := NewFakeClock(time.Unix(1_700_000_000, 0))
	r := NewRegistry(zerolog.Nop(), clock, stubSim{}, nil, nil, ActorConfig{
		DisconnectGrace: 30 * time.Second,
		CheckpointEvery: 20,
		Seed:            1,
	})
	t.Cleanup(func() { r.Close(time.Second) })
	return r, clock
}

func TestCreateSessionAndLookup(t *testing.T) {
	r, _ := newTestRegistry(t)
	created, err := r.CreateSession(context.Background(), "dir", "Director", twoPlayerConfig(), make(chan []byte, 8))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.JoinCode == "" || len(created.JoinCode) != joinCodeLength {
		t.Fatalf("bad join code %q", created.JoinCode)
	}
	if created.Session.DirectorID != "dir" || created.Session.Status != string(StatusLobby) {
		t.Fatalf("session view = %+v", created.Session)
	}

	byID, err := r.GetByID(created.SessionID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	byCode, err := r.GetByCode(created.JoinCode)
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if byID != byCode {
		t.Fatalf("id and code resolve to different actors")
	}
}

func TestCreateSessionRejectsBadConfig(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.CreateSession(context.Background(), "dir", "Director", Config{MaxParticipants: 1}, nil)
	if CodeOf(err) != protocol.ErrConfig {
		t.Fatalf("err = %v, want CONFIG", err)
	}
	_, err = r.CreateSession(context.Background(), "dir", "Director", Config{MaxParticipants: 9}, nil)
	if CodeOf(err) != protocol.ErrConfig {
		t.Fatalf("err = %v, want CONFIG", err)
	}
}

func TestUnknownLookupsReturnNotFound(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.GetByID("nope"); CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("get by id err = %v, want NOT_FOUND", err)
	}
	if _, err := r.GetByCode("ZZZZZZ"); CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("get by code err = %v, want NOT_FOUND", err)
	}
}

func TestEndedSessionLeavesRegistry(t *testing.T) {
	r, _ := newTestRegistry(t)
	created, err := r.CreateSession(context.Background(), "dir", "Director", twoPlayerConfig(), make(chan []byte, 8))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	actor, _ := r.GetByID(created.SessionID)
	if _, _, err := actor.Privileged(context.Background(), "dir", "end", nil); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := r.GetByID(created.SessionID); CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("ended session still registered: %v", err)
	}
	if _, err := r.GetByCode(created.JoinCode); CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("ended session join code still registered: %v", err)
	}
	if n, _ := r.Stats(); n != 0 {
		t.Fatalf("stats report %d sessions after end", n)
	}
}

func TestJoinCodesAreUniquePerSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		created, err := r.CreateSession(context.Background(), "dir", "Director", twoPlayerConfig(), nil)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[created.JoinCode] {
			t.Fatalf("duplicate join code %s", created.JoinCode)
		}
		seen[created.JoinCode] = true
	}
}
