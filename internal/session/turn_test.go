package session

import (
	"testing"

	"emberhall.gg/internal/sim"
)

func allLive(string) bool { return true }

func TestBuildTurnStateOrdersByInitiativeDesc(t *testing.T) {
	ts := BuildTurnState([]sim.EntityInit{
		{ID: "A", Initiative: 3},
		{ID: "B", Initiative: 18},
		{ID: "C", Initiative: 9},
	})
	want := []string{"B", "C", "A"}
	for i, id := range want {
		if ts.Order[i] != id {
			t.Fatalf("order[%d] = %s, want %s (full: %v)", i, ts.Order[i], id, ts.Order)
		}
	}
	if ts.Round != 1 || ts.Index != 0 {
		t.Fatalf("fresh turn state round=%d index=%d", ts.Round, ts.Index)
	}
	if ts.Current() != "B" {
		t.Fatalf("current = %s, want B", ts.Current())
	}
}

func TestBuildTurnStateTieBreaksByCreationOrder(t *testing.T) {
	ts := BuildTurnState([]sim.EntityInit{
		{ID: "first", Initiative: 10},
		{ID: "second", Initiative: 10},
		{ID: "third", Initiative: 10},
	})
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if ts.Order[i] != id {
			t.Fatalf("tie-break broken: order=%v", ts.Order)
		}
	}
}

func TestAdvanceWrapsAndIncrementsRound(t *testing.T) {
	ts := BuildTurnState([]sim.EntityInit{
		{ID: "A", Initiative: 2},
		{ID: "B", Initiative: 1},
	})
	ts, ok := ts.Advance(allLive)
	if !ok || ts.Current() != "B" || ts.Round != 1 {
		t.Fatalf("after first advance: current=%s round=%d ok=%v", ts.Current(), ts.Round, ok)
	}
	ts, ok = ts.Advance(allLive)
	if !ok || ts.Current() != "A" || ts.Round != 2 {
		t.Fatalf("after wrap: current=%s round=%d ok=%v", ts.Current(), ts.Round, ok)
	}
}

func TestAdvanceSkipsDeadEntities(t *testing.T) {
	ts := BuildTurnState([]sim.EntityInit{
		{ID: "A", Initiative: 3},
		{ID: "B", Initiative: 2},
		{ID: "C", Initiative: 1},
	})
	live := func(id string) bool { return id != "B" }
	ts, ok := ts.Advance(live)
	if !ok || ts.Current() != "C" {
		t.Fatalf("dead entity not skipped: current=%s", ts.Current())
	}
}

func TestAdvanceNoLiveEntities(t *testing.T) {
	ts := BuildTurnState([]sim.EntityInit{{ID: "A", Initiative: 1}})
	dead := func(string) bool { return false }
	got, ok := ts.Advance(dead)
	if ok {
		t.Fatalf("advance reported ok with no live entities")
	}
	if got.Current() != "A" {
		t.Fatalf("turn state changed on failed advance")
	}
}

func TestAdvanceSingleEntityWraps(t *testing.T) {
	ts := BuildTurnState([]sim.EntityInit{{ID: "A", Initiative: 1}})
	ts, ok := ts.Advance(allLive)
	if !ok || ts.Current() != "A" || ts.Round != 2 {
		t.Fatalf("single entity wrap: current=%s round=%d", ts.Current(), ts.Round)
	}
}

func TestAppendKeepsExistingOrder(t *testing.T) {
	ts := BuildTurnState([]sim.EntityInit{
		{ID: "A", Initiative: 5},
		{ID: "B", Initiative: 1},
	})
	ts = ts.Append([]sim.EntityInit{{ID: "S1", Initiative: 99}})
	if ts.Order[2] != "S1" {
		t.Fatalf("spawned entity not appended at the end: %v", ts.Order)
	}
}
