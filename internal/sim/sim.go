// Package sim defines the contract between the synchronization core and the
// deterministic combat simulation. The core never interprets State beyond
// what the delta codec needs; the simulation never sees the network.
package sim

import "fmt"

// State is the simulation-owned shared state: a JSON-shaped value tree.
type State = map[string]any

// Event is an opaque simulation event forwarded verbatim to clients.
type Event = map[string]any

// Action is one participant-issued command against the current state.
type Action struct {
	// EntityID is the acting entity, resolved by the session core from
	// turn ownership (or supplied by a director command).
	EntityID string
	Type     string
	Params   map[string]any
}

// EntityInit seeds the turn coordinator. Slice order is creation order and
// is the deterministic tie-break for equal initiative.
type EntityInit struct {
	ID         string
	Name       string
	Initiative int
	// Controller is the participant controlling the entity; director for
	// monsters.
	Controller string
}

// PartyMember describes one participant-controlled combatant to set up.
type PartyMember struct {
	ParticipantID string
	Name          string
}

// SetupInput carries everything the simulation needs to build the first
// state deterministically.
type SetupInput struct {
	Difficulty string
	Seed       int64
	Party      []PartyMember
	// Monsters is the director's monster selection; empty means the
	// simulation's default encounter for the difficulty.
	Monsters []string
	// DirectorID controls all non-party entities.
	DirectorID string
}

// Result is the outcome of one accepted action.
type Result struct {
	State  State
	Events []Event
	// TurnEnding reports whether the action consumes the entity's turn.
	TurnEnding bool
	// Spawned lists entities added by this action (director spawns); the
	// core appends them to the initiative order.
	Spawned []EntityInit
	// Outcome is "" while the encounter continues, otherwise "victory"
	// or "defeat".
	Outcome string
}

// Simulation is the external combat/pathfinding collaborator. Both methods
// are pure: identical inputs produce identical outputs, and the input state
// is never mutated.
type Simulation interface {
	Setup(in SetupInput) (State, []EntityInit, error)
	ExecuteAction(state State, action Action) (Result, error)
}

// InvalidActionError is surfaced to clients verbatim as INVALID_ACTION.
type InvalidActionError struct {
	Reason string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("invalid action: %s", e.Reason)
}

func Invalidf(format string, args ...any) *InvalidActionError {
	return &InvalidActionError{Reason: fmt.Sprintf(format, args...)}
}
