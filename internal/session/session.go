// Package session holds the synchronization core: one sequential actor per
// session owning its state, turn order and presence, plus the registry that
// maps join codes and session ids to running actors.
package session

import (
	"time"

	"emberhall.gg/internal/protocol"
)

type Status string

const (
	StatusLobby  Status = "lobby"
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

type Role string

const (
	RoleDirector Role = "director"
	RoleMember   Role = "member"
)

// Participant is one member of a session. Mutated only by the session's
// actor goroutine.
type Participant struct {
	ID               string
	Name             string
	Role             Role
	Connected        bool
	Ready            bool
	ControlledEntity string
	LastActivity     time.Time
}

// Config carries the recognized session options.
type Config struct {
	MaxParticipants    int
	Difficulty         string
	TurnTimeoutSeconds int
}

const (
	MinParticipants = 2
	MaxParticipants = 8
)

// Validate enforces the option ranges; failures surface as CONFIG errors.
func (c Config) Validate() error {
	if c.MaxParticipants < MinParticipants || c.MaxParticipants > MaxParticipants {
		return Errf(protocol.ErrConfig, "maxParticipants must be between %d and %d, got %d",
			MinParticipants, MaxParticipants, c.MaxParticipants)
	}
	if c.TurnTimeoutSeconds < 0 {
		return Errf(protocol.ErrConfig, "turnTimeoutSeconds must not be negative")
	}
	return nil
}

// Session is the metadata record for one running session. State itself is a
// versioned blob owned by the simulation; the core never reads past what the
// delta codec needs.
type Session struct {
	ID         string
	JoinCode   string
	DirectorID string
	Status     Status
	Config     Config

	Version      uint64
	Participants []*Participant
	CreatedAt    time.Time
}

func (s *Session) participant(id string) *Participant {
	for _, p := range s.Participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *Session) removeParticipant(id string) bool {
	for i, p := range s.Participants {
		if p.ID == id {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// View builds the wire representation.
func (s *Session) View() protocol.SessionView {
	ps := make([]protocol.ParticipantView, 0, len(s.Participants))
	for _, p := range s.Participants {
		ps = append(ps, protocol.ParticipantView{
			ID:               p.ID,
			Name:             p.Name,
			Role:             string(p.Role),
			Connected:        p.Connected,
			Ready:            p.Ready,
			ControlledEntity: p.ControlledEntity,
		})
	}
	return protocol.SessionView{
		ID:           s.ID,
		JoinCode:     s.JoinCode,
		DirectorID:   s.DirectorID,
		Status:       string(s.Status),
		Version:      s.Version,
		Participants: ps,
	}
}

// HistoryEntry is one record of the append-only per-session event history,
// kept for audit and replay.
type HistoryEntry struct {
	Seq     uint64    `json:"seq"`
	Version uint64    `json:"version"`
	Kind    string    `json:"kind"`
	Actor   string    `json:"actor,omitempty"`
	Detail  any       `json:"detail,omitempty"`
	TS      time.Time `json:"ts"`
}
