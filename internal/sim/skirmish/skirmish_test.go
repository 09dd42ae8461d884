package skirmish

import (
	"encoding/json"
	"errors"
	"testing"

	"emberhall.gg/internal/sim"
)

func setupTwoHeroes(t *testing.T, difficulty string) (sim.State, []sim.EntityInit) {
	t.Helper()
	state, inits, err := New().Setup(sim.SetupInput{
		Difficulty: difficulty,
		Seed:       42,
		Party: []sim.PartyMember{
			{ParticipantID: "p1", Name: "Ana"},
			{ParticipantID: "p2", Name: "Brom"},
		},
		DirectorID: "dir",
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	return state, inits
}

func exec(t *testing.T, state sim.State, a sim.Action) sim.Result {
	t.Helper()
	res, err := New().ExecuteAction(state, a)
	if err != nil {
		t.Fatalf("%s %s: %v", a.EntityID, a.Type, err)
	}
	return res
}

func execInvalid(t *testing.T, state sim.State, a sim.Action) *sim.InvalidActionError {
	t.Helper()
	_, err := New().ExecuteAction(state, a)
	var inv *sim.InvalidActionError
	if !errors.As(err, &inv) {
		t.Fatalf("%s %s: expected InvalidActionError, got %v", a.EntityID, a.Type, err)
	}
	return inv
}

func entity(t *testing.T, state sim.State, id string) map[string]any {
	t.Helper()
	e := findEntity(state, id)
	if e == nil {
		t.Fatalf("entity %s not in state", id)
	}
	return e
}

func TestSetupIsDeterministic(t *testing.T) {
	a, _ := setupTwoHeroes(t, "normal")
	b, _ := setupTwoHeroes(t, "normal")
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	if string(aj) != string(bj) {
		t.Fatalf("same seed produced different states:\n%s\n%s", aj, bj)
	}
}

func TestSetupPlacesPartyAndEncounter(t *testing.T) {
	state, inits := setupTwoHeroes(t, "normal")
	ents := entities(state)
	if len(ents) != 4 { // two heroes, two goblins
		t.Fatalf("entity count = %d, want 4", len(ents))
	}
	if len(inits) != 4 {
		t.Fatalf("init count = %d, want 4", len(inits))
	}
	h1 := entity(t, state, "H1")
	if h1["name"] != "Ana" || fint(h1["x"]) != 0 {
		t.Fatalf("H1 = %v", h1)
	}
	m1 := entity(t, state, "M1")
	if m1["kind"] != "monster" || fint(m1["x"]) != arenaWidth-1 {
		t.Fatalf("M1 = %v", m1)
	}
	for _, init := range inits[2:] {
		if init.Controller != "dir" {
			t.Fatalf("monster %s controlled by %q, want director", init.ID, init.Controller)
		}
	}
}

func TestSetupScalesMonsterHPByDifficulty(t *testing.T) {
	easy, _ := setupTwoHeroes(t, "easy")
	hard, _ := setupTwoHeroes(t, "hard")
	if hp := fint(entity(t, easy, "M1")["hp"]); hp != 8 {
		t.Fatalf("easy goblin hp = %d, want 8", hp)
	}
	if hp := fint(entity(t, hard, "M1")["hp"]); hp != 15 {
		t.Fatalf("hard goblin hp = %d, want 15", hp)
	}
}

func TestSetupRejectsEmptyPartyAndUnknownMonster(t *testing.T) {
	if _, _, err := New().Setup(sim.SetupInput{Difficulty: "easy"}); err == nil {
		t.Fatalf("empty party accepted")
	}
	_, _, err := New().Setup(sim.SetupInput{
		Party:    []sim.PartyMember{{ParticipantID: "p1", Name: "Ana"}},
		Monsters: []string{"dragon"},
	})
	if err == nil {
		t.Fatalf("unknown monster kind accepted")
	}
}

func TestMoveUpdatesPositionAndEndsTurn(t *testing.T) {
	state, _ := setupTwoHeroes(t, "normal")
	res := exec(t, state, sim.Action{
		EntityID: "H1", Type: "move",
		Params: map[string]any{"x": float64(2), "y": float64(1)},
	})
	if !res.TurnEnding {
		t.Fatalf("move did not end the turn")
	}
	moved := entity(t, res.State, "H1")
	if fint(moved["x"]) != 2 || fint(moved["y"]) != 1 {
		t.Fatalf("H1 at (%v,%v)", moved["x"], moved["y"])
	}
	// input state untouched
	if fint(entity(t, state, "H1")["x"]) != 0 {
		t.Fatalf("ExecuteAction mutated its input state")
	}
}

func TestMoveValidation(t *testing.T) {
	state, _ := setupTwoHeroes(t, "normal")
	cases := []struct {
		name   string
		params map[string]any
	}{
		{"missing coords", map[string]any{"x": float64(1)}},
		{"outside arena", map[string]any{"x": float64(99), "y": float64(0)}},
		{"out of range", map[string]any{"x": float64(4), "y": float64(4)}},
		{"occupied", map[string]any{"x": float64(0), "y": float64(1)}}, // H2's tile
		{"zero distance", map[string]any{"x": float64(0), "y": float64(0)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			execInvalid(t, state, sim.Action{EntityID: "H1", Type: "move", Params: tc.params})
		})
	}
}

func TestMoveDistanceIsManhattan(t *testing.T) {
	state, _ := setupTwoHeroes(t, "normal")
	// M1 (goblin, speed 2) sits at (7,0): deltas toward the heroes are
	// negative on x, so range checks must use absolute distance.
	res := exec(t, state, sim.Action{
		EntityID: "M1", Type: "move",
		Params: map[string]any{"x": float64(6), "y": float64(1)},
	})
	moved := entity(t, res.State, "M1")
	if fint(moved["x"]) != 6 || fint(moved["y"]) != 1 {
		t.Fatalf("M1 at (%v,%v)", moved["x"], moved["y"])
	}
	execInvalid(t, state, sim.Action{
		EntityID: "M1", Type: "move",
		Params: map[string]any{"x": float64(5), "y": float64(1)}, // distance 3 > speed 2
	})
}

func TestStrikeRequiresAdjacency(t *testing.T) {
	state, _ := setupTwoHeroes(t, "normal")
	inv := execInvalid(t, state, sim.Action{
		EntityID: "H1", Type: "strike", Params: map[string]any{"target": "M1"},
	})
	if inv.Reason == "" {
		t.Fatalf("empty rejection reason")
	}
}

func TestStrikeDamagesAndDowns(t *testing.T) {
	state, _ := setupTwoHeroes(t, "normal")
	entity(t, state, "M1")["x"] = float64(1)
	entity(t, state, "M1")["y"] = float64(0)

	res := exec(t, state, sim.Action{
		EntityID: "H1", Type: "strike", Params: map[string]any{"target": "M1"},
	})
	if hp := fint(entity(t, res.State, "M1")["hp"]); hp != 5 { // 10 - hero atk 5
		t.Fatalf("M1 hp = %d, want 5", hp)
	}
	if res.Outcome != "" {
		t.Fatalf("outcome %q with a monster still standing", res.Outcome)
	}

	// second strike downs it
	res2 := exec(t, res.State, sim.Action{
		EntityID: "H1", Type: "strike", Params: map[string]any{"target": "M1"},
	})
	downed := false
	for _, ev := range res2.Events {
		if ev["type"] == "downed" {
			downed = true
		}
	}
	if !downed {
		t.Fatalf("no downed event: %v", res2.Events)
	}
	execInvalid(t, res2.State, sim.Action{
		EntityID: "H1", Type: "strike", Params: map[string]any{"target": "M1"},
	})
}

func TestGuardHalvesIncomingDamage(t *testing.T) {
	state, _ := setupTwoHeroes(t, "normal")
	entity(t, state, "M1")["x"] = float64(1)
	entity(t, state, "M1")["y"] = float64(0)

	res := exec(t, state, sim.Action{EntityID: "H1", Type: "guard"})
	if entity(t, res.State, "H1")["guard"] != true {
		t.Fatalf("guard flag not set")
	}

	hit := exec(t, res.State, sim.Action{
		EntityID: "M1", Type: "strike", Params: map[string]any{"target": "H1"},
	})
	if hp := fint(entity(t, hit.State, "H1")["hp"]); hp != heroHP-2 { // ceil(3/2)
		t.Fatalf("guarded H1 hp = %d, want %d", hp, heroHP-2)
	}
}

func TestVictoryWhenLastMonsterFalls(t *testing.T) {
	state, _ := setupTwoHeroes(t, "easy") // single goblin
	m1 := entity(t, state, "M1")
	m1["x"] = float64(1)
	m1["y"] = float64(0)
	m1["hp"] = float64(3)

	res := exec(t, state, sim.Action{
		EntityID: "H1", Type: "strike", Params: map[string]any{"target": "M1"},
	})
	if res.Outcome != "victory" {
		t.Fatalf("outcome = %q, want victory", res.Outcome)
	}
}

func TestDefeatWhenLastHeroFalls(t *testing.T) {
	state, _, err := New().Setup(sim.SetupInput{
		Difficulty: "easy",
		Seed:       1,
		Party:      []sim.PartyMember{{ParticipantID: "p1", Name: "Ana"}},
		DirectorID: "dir",
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	h1 := entity(t, state, "H1")
	h1["hp"] = float64(2)
	m1 := entity(t, state, "M1")
	m1["x"] = float64(0)
	m1["y"] = float64(1)

	res := exec(t, state, sim.Action{
		EntityID: "M1", Type: "strike", Params: map[string]any{"target": "H1"},
	})
	if res.Outcome != "defeat" {
		t.Fatalf("outcome = %q, want defeat", res.Outcome)
	}
}

func TestGrantResourceHealsClamped(t *testing.T) {
	state, _ := setupTwoHeroes(t, "normal")
	entity(t, state, "H1")["hp"] = float64(12)

	res := exec(t, state, sim.Action{
		Type:   "grant_resource",
		Params: map[string]any{"target": "H1", "amount": float64(50)},
	})
	if hp := fint(entity(t, res.State, "H1")["hp"]); hp != heroHP {
		t.Fatalf("hp = %d, want clamped to %d", hp, heroHP)
	}
	if res.TurnEnding {
		t.Fatalf("director grant consumed a turn")
	}

	execInvalid(t, state, sim.Action{
		Type:   "grant_resource",
		Params: map[string]any{"target": "H1", "amount": float64(0)},
	})
	execInvalid(t, state, sim.Action{
		Type:   "grant_resource",
		Params: map[string]any{"target": "nobody", "amount": float64(5)},
	})
}

func TestSpawnEntityAppendsMonster(t *testing.T) {
	state, _ := setupTwoHeroes(t, "normal")
	res := exec(t, state, sim.Action{
		Type: "spawn_entity",
		Params: map[string]any{
			"kind": "warg", "x": float64(4), "y": float64(4), "controller": "dir",
		},
	})
	if len(res.Spawned) != 1 {
		t.Fatalf("spawned = %v", res.Spawned)
	}
	init := res.Spawned[0]
	if init.ID != "M3" || init.Controller != "dir" || init.Initiative != 1 {
		t.Fatalf("spawn init = %+v", init)
	}
	spawned := entity(t, res.State, "M3")
	if spawned["name"] != "warg" || fint(spawned["x"]) != 4 {
		t.Fatalf("spawned entity = %v", spawned)
	}

	execInvalid(t, state, sim.Action{
		Type:   "spawn_entity",
		Params: map[string]any{"kind": "dragon", "x": float64(4), "y": float64(4)},
	})
	execInvalid(t, state, sim.Action{
		Type:   "spawn_entity",
		Params: map[string]any{"kind": "warg", "x": float64(0), "y": float64(0)},
	})
}

func TestSkipAndUnknownAction(t *testing.T) {
	state, _ := setupTwoHeroes(t, "normal")
	res := exec(t, state, sim.Action{EntityID: "H1", Type: "skip"})
	if !res.TurnEnding || len(res.Events) != 0 {
		t.Fatalf("skip result = %+v", res)
	}
	execInvalid(t, state, sim.Action{EntityID: "H1", Type: "dance"})
	execInvalid(t, state, sim.Action{EntityID: "ghost", Type: "skip"})
}
