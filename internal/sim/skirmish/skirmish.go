// Package skirmish is a small deterministic grid-combat simulation used as
// the reference Simulation collaborator. It exists so the server runs end to
// end and so property tests have real (state, action) pairs; balance is not
// the point.
package skirmish

import (
	"fmt"
	"hash/fnv"
	"math"

	"emberhall.gg/internal/delta"
	"emberhall.gg/internal/sim"
)

const (
	arenaWidth  = 8
	arenaHeight = 8

	heroHP    = 20
	heroAtk   = 5
	heroSpeed = 3
)

type monsterKind struct {
	HP    int
	Atk   int
	Speed int
}

var monsterCatalog = map[string]monsterKind{
	"goblin": {HP: 10, Atk: 3, Speed: 2},
	"warg":   {HP: 12, Atk: 4, Speed: 3},
	"ogre":   {HP: 24, Atk: 6, Speed: 1},
}

var defaultEncounters = map[string][]string{
	"easy":   {"goblin"},
	"normal": {"goblin", "goblin"},
	"hard":   {"goblin", "warg", "ogre"},
}

type Skirmish struct{}

func New() *Skirmish { return &Skirmish{} }

func (s *Skirmish) Setup(in sim.SetupInput) (sim.State, []sim.EntityInit, error) {
	if len(in.Party) == 0 {
		return nil, nil, fmt.Errorf("skirmish: empty party")
	}
	difficulty := in.Difficulty
	if difficulty == "" {
		difficulty = "normal"
	}
	monsters := in.Monsters
	if len(monsters) == 0 {
		monsters = defaultEncounters[difficulty]
	}

	entities := make([]any, 0, len(in.Party)+len(monsters))
	inits := make([]sim.EntityInit, 0, cap(entities))

	for i, member := range in.Party {
		id := fmt.Sprintf("H%d", i+1)
		entities = append(entities, map[string]any{
			"id":         id,
			"name":       member.Name,
			"kind":       "hero",
			"hp":         float64(heroHP),
			"maxHp":      float64(heroHP),
			"atk":        float64(heroAtk),
			"speed":      float64(heroSpeed),
			"x":          float64(0),
			"y":          float64(i % arenaHeight),
			"guard":      false,
			"initiative": float64(rollInitiative(in.Seed, id)),
		})
		inits = append(inits, sim.EntityInit{
			ID:         id,
			Name:       member.Name,
			Initiative: rollInitiative(in.Seed, id),
			Controller: member.ParticipantID,
		})
	}

	for i, kind := range monsters {
		mk, ok := monsterCatalog[kind]
		if !ok {
			return nil, nil, fmt.Errorf("skirmish: unknown monster kind %q", kind)
		}
		id := fmt.Sprintf("M%d", i+1)
		hp := scaleHP(mk.HP, difficulty)
		entities = append(entities, map[string]any{
			"id":         id,
			"name":       kind,
			"kind":       "monster",
			"hp":         float64(hp),
			"maxHp":      float64(hp),
			"atk":        float64(mk.Atk),
			"speed":      float64(mk.Speed),
			"x":          float64(arenaWidth - 1),
			"y":          float64(i % arenaHeight),
			"guard":      false,
			"initiative": float64(rollInitiative(in.Seed, id)),
		})
		inits = append(inits, sim.EntityInit{
			ID:         id,
			Name:       kind,
			Initiative: rollInitiative(in.Seed, id),
			Controller: in.DirectorID,
		})
	}

	state := sim.State{
		"arena": map[string]any{
			"width":  float64(arenaWidth),
			"height": float64(arenaHeight),
		},
		"difficulty": difficulty,
		"entities":   entities,
	}
	return state, inits, nil
}

func (s *Skirmish) ExecuteAction(state sim.State, action sim.Action) (sim.Result, error) {
	next := delta.Copy(state)

	// Director world edits carry no acting entity.
	switch action.Type {
	case "grant_resource":
		return s.grant(next, action)
	case "spawn_entity":
		return s.spawn(next, action)
	}

	actor := findEntity(next, action.EntityID)
	if actor == nil {
		return sim.Result{}, sim.Invalidf("no such entity %q", action.EntityID)
	}

	switch action.Type {
	case "move":
		return s.move(next, actor, action)
	case "strike":
		return s.strike(next, actor, action)
	case "guard":
		if !alive(actor) {
			return sim.Result{}, sim.Invalidf("%s is down", action.EntityID)
		}
		actor["guard"] = true
		return sim.Result{State: next, TurnEnding: true, Events: []sim.Event{{
			"type": "guarded", "entityId": action.EntityID,
		}}}, nil
	case "skip":
		return sim.Result{State: next, TurnEnding: true}, nil
	default:
		return sim.Result{}, sim.Invalidf("unknown action type %q", action.Type)
	}
}

func (s *Skirmish) move(state sim.State, actor map[string]any, action sim.Action) (sim.Result, error) {
	if !alive(actor) {
		return sim.Result{}, sim.Invalidf("%s is down", action.EntityID)
	}
	x, okX := num(action.Params, "x")
	y, okY := num(action.Params, "y")
	if !okX || !okY {
		return sim.Result{}, sim.Invalidf("move requires x and y")
	}
	if x < 0 || y < 0 || x >= arenaWidth || y >= arenaHeight {
		return sim.Result{}, sim.Invalidf("destination (%d,%d) outside the arena", x, y)
	}
	dist := abs(x-fint(actor["x"])) + abs(y-fint(actor["y"]))
	if dist == 0 {
		return sim.Result{}, sim.Invalidf("already at (%d,%d)", x, y)
	}
	if dist > fint(actor["speed"]) {
		return sim.Result{}, sim.Invalidf("(%d,%d) is out of range", x, y)
	}
	if occupied(state, x, y) {
		return sim.Result{}, sim.Invalidf("(%d,%d) is occupied", x, y)
	}
	actor["guard"] = false
	actor["x"] = float64(x)
	actor["y"] = float64(y)
	return sim.Result{State: state, TurnEnding: true, Events: []sim.Event{{
		"type": "moved", "entityId": action.EntityID, "x": x, "y": y,
	}}}, nil
}

func (s *Skirmish) strike(state sim.State, actor map[string]any, action sim.Action) (sim.Result, error) {
	if !alive(actor) {
		return sim.Result{}, sim.Invalidf("%s is down", action.EntityID)
	}
	targetID, _ := action.Params["target"].(string)
	target := findEntity(state, targetID)
	if target == nil {
		return sim.Result{}, sim.Invalidf("no such target %q", targetID)
	}
	if !alive(target) {
		return sim.Result{}, sim.Invalidf("%s is already down", targetID)
	}
	dist := abs(fint(actor["x"])-fint(target["x"])) + abs(fint(actor["y"])-fint(target["y"]))
	if dist > 1 {
		return sim.Result{}, sim.Invalidf("%s is out of reach", targetID)
	}

	dmg := fint(actor["atk"])
	if target["guard"] == true {
		dmg = int(math.Ceil(float64(dmg) / 2))
	}
	hp := fint(target["hp"]) - dmg
	if hp < 0 {
		hp = 0
	}
	actor["guard"] = false
	target["hp"] = float64(hp)

	events := []sim.Event{{
		"type": "struck", "entityId": action.EntityID, "targetId": targetID, "damage": dmg,
	}}
	if hp == 0 {
		events = append(events, sim.Event{"type": "downed", "entityId": targetID})
	}
	return sim.Result{
		State:      state,
		Events:     events,
		TurnEnding: true,
		Outcome:    outcome(state),
	}, nil
}

func (s *Skirmish) grant(state sim.State, action sim.Action) (sim.Result, error) {
	targetID, _ := action.Params["target"].(string)
	target := findEntity(state, targetID)
	if target == nil {
		return sim.Result{}, sim.Invalidf("no such target %q", targetID)
	}
	amount, ok := num(action.Params, "amount")
	if !ok || amount <= 0 {
		return sim.Result{}, sim.Invalidf("grant requires a positive amount")
	}
	hp := fint(target["hp"]) + amount
	if max := fint(target["maxHp"]); hp > max {
		hp = max
	}
	target["hp"] = float64(hp)
	return sim.Result{State: state, Events: []sim.Event{{
		"type": "resource_granted", "entityId": targetID, "amount": amount,
	}}}, nil
}

func (s *Skirmish) spawn(state sim.State, action sim.Action) (sim.Result, error) {
	kind, _ := action.Params["kind"].(string)
	mk, ok := monsterCatalog[kind]
	if !ok {
		return sim.Result{}, sim.Invalidf("unknown monster kind %q", kind)
	}
	x, okX := num(action.Params, "x")
	y, okY := num(action.Params, "y")
	if !okX || !okY || x < 0 || y < 0 || x >= arenaWidth || y >= arenaHeight {
		return sim.Result{}, sim.Invalidf("spawn requires a position inside the arena")
	}
	if occupied(state, x, y) {
		return sim.Result{}, sim.Invalidf("(%d,%d) is occupied", x, y)
	}

	id := nextMonsterID(state)
	ent := map[string]any{
		"id":         id,
		"name":       kind,
		"kind":       "monster",
		"hp":         float64(mk.HP),
		"maxHp":      float64(mk.HP),
		"atk":        float64(mk.Atk),
		"speed":      float64(mk.Speed),
		"x":          float64(x),
		"y":          float64(y),
		"guard":      false,
		"initiative": float64(1), // spawned entities act last in the round
	}
	ents, _ := state["entities"].([]any)
	state["entities"] = append(ents, ent)

	controller, _ := action.Params["controller"].(string)
	return sim.Result{
		State:  state,
		Events: []sim.Event{{"type": "spawned", "entityId": id, "kind": kind, "x": x, "y": y}},
		Spawned: []sim.EntityInit{{
			ID:         id,
			Name:       kind,
			Initiative: 1,
			Controller: controller,
		}},
	}, nil
}

func outcome(state sim.State) string {
	heroes, monsters := 0, 0
	for _, e := range entities(state) {
		if !alive(e) {
			continue
		}
		if e["kind"] == "hero" {
			heroes++
		} else {
			monsters++
		}
	}
	switch {
	case monsters == 0:
		return "victory"
	case heroes == 0:
		return "defeat"
	default:
		return ""
	}
}

func rollInitiative(seed int64, id string) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d:%s", seed, id)
	return int(h.Sum32()%20) + 1
}

func scaleHP(base int, difficulty string) int {
	switch difficulty {
	case "easy":
		return (base*3 + 3) / 4
	case "hard":
		return (base * 3) / 2
	default:
		return base
	}
}

func entities(state sim.State) []map[string]any {
	raw, _ := state["entities"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func findEntity(state sim.State, id string) map[string]any {
	for _, e := range entities(state) {
		if e["id"] == id {
			return e
		}
	}
	return nil
}

func occupied(state sim.State, x, y int) bool {
	for _, e := range entities(state) {
		if alive(e) && fint(e["x"]) == x && fint(e["y"]) == y {
			return true
		}
	}
	return false
}

func nextMonsterID(state sim.State) string {
	n := 0
	for _, e := range entities(state) {
		if e["kind"] == "monster" {
			n++
		}
	}
	return fmt.Sprintf("M%d", n+1)
}

func alive(e map[string]any) bool { return fint(e["hp"]) > 0 }

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func fint(v any) int {
	f, _ := v.(float64)
	return int(f)
}

func num(params map[string]any, key string) (int, bool) {
	f, ok := params[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
