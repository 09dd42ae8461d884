package session

import (
	"sort"
	"time"

	"emberhall.gg/internal/sim"
)

// TurnState owns initiative order and whose turn it is. The current index
// always resolves to a live entity; advancing past the end wraps and
// increments the round.
type TurnState struct {
	Order []string
	Index int
	Round int
	// Deadline is zero when turns are untimed.
	Deadline time.Time
}

// BuildTurnState orders entities by initiative, descending; ties break by
// creation order (the order entities appear in inits), so identical setups
// always produce identical orderings.
func BuildTurnState(inits []sim.EntityInit) TurnState {
	idx := make([]int, len(inits))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return inits[idx[a]].Initiative > inits[idx[b]].Initiative
	})
	order := make([]string, len(inits))
	for i, j := range idx {
		order[i] = inits[j].ID
	}
	return TurnState{Order: order, Index: 0, Round: 1}
}

// Current returns the entity whose turn it is.
func (t TurnState) Current() string {
	if len(t.Order) == 0 {
		return ""
	}
	return t.Order[t.Index]
}

// Append adds newly spawned entities to the end of the initiative order.
func (t TurnState) Append(inits []sim.EntityInit) TurnState {
	for _, in := range inits {
		t.Order = append(t.Order, in.ID)
	}
	return t
}

// Advance moves to the next entity for which live returns true, wrapping
// and incrementing the round as needed. ok is false when no entity is live,
// in which case the turn state is returned unchanged.
func (t TurnState) Advance(live func(entityID string) bool) (TurnState, bool) {
	if len(t.Order) == 0 {
		return t, false
	}
	next := t
	for step := 1; step <= len(t.Order); step++ {
		i := (t.Index + step) % len(t.Order)
		if !live(t.Order[i]) {
			continue
		}
		next.Index = i
		if i <= t.Index {
			next.Round = t.Round + 1
		}
		next.Deadline = time.Time{}
		return next, true
	}
	return t, false
}
