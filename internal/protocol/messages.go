package protocol

import "emberhall.gg/internal/delta"

// Event is an opaque simulation/lifecycle event forwarded to clients.
type Event map[string]any

// auth (client -> server)
type AuthPayload struct {
	Token string `json:"token"`
	Name  string `json:"name,omitempty"`
}

// auth_result
type AuthResultPayload struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

// SessionConfig carries the recognized create_session options.
type SessionConfig struct {
	MaxParticipants    int    `json:"maxParticipants"`
	Difficulty         string `json:"difficulty,omitempty"`
	TurnTimeoutSeconds int    `json:"turnTimeoutSeconds"`
}

// create_session
type CreateSessionPayload struct {
	Config SessionConfig `json:"config"`
}

// session_created
type SessionCreatedPayload struct {
	SessionID string      `json:"sessionId"`
	JoinCode  string      `json:"joinCode"`
	Session   SessionView `json:"session"`
}

// join_session
type JoinSessionPayload struct {
	JoinCode string `json:"joinCode"`
}

// session_joined
type SessionJoinedPayload struct {
	SessionID string      `json:"sessionId"`
	Session   SessionView `json:"session"`
}

// leave_session
type LeaveSessionPayload struct {
	SessionID string `json:"sessionId"`
}

// set_ready
type SetReadyPayload struct {
	SessionID string `json:"sessionId"`
	Ready     bool   `json:"ready"`
}

// ActionBody is the simulation-facing half of an action message. Params are
// interpreted by the simulation collaborator, never by the sync core.
type ActionBody struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// action
type ActionPayload struct {
	SessionID string     `json:"sessionId"`
	Action    ActionBody `json:"action"`
}

// privileged_command
type PrivilegedCommandPayload struct {
	SessionID string         `json:"sessionId"`
	Command   string         `json:"command"`
	Args      map[string]any `json:"args,omitempty"`
}

// chat
type ChatPayload struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// request_full_sync
type RequestFullSyncPayload struct {
	SessionID string `json:"sessionId"`
}

// full_state
type FullStatePayload struct {
	SessionID string         `json:"sessionId"`
	State     map[string]any `json:"state"`
	Version   uint64         `json:"version"`
}

// state_delta
type StateDeltaPayload struct {
	SessionID string      `json:"sessionId"`
	Delta     delta.Delta `json:"delta"`
}

// events
type EventsPayload struct {
	SessionID string  `json:"sessionId"`
	Events    []Event `json:"list"`
}

// turn_changed
type TurnChangedPayload struct {
	SessionID  string `json:"sessionId"`
	EntityID   string `json:"entityId"`
	Round      int    `json:"round"`
	DeadlineTS int64  `json:"deadlineTs,omitempty"`
}

// participant_joined
type ParticipantJoinedPayload struct {
	SessionID   string          `json:"sessionId"`
	Participant ParticipantView `json:"participant"`
}

// participant_left
type ParticipantLeftPayload struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Reason        string `json:"reason"`
}

// participant_ready_changed
type ParticipantReadyChangedPayload struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Ready         bool   `json:"ready"`
}

// session_ended
type SessionEndedPayload struct {
	SessionID string         `json:"sessionId"`
	Result    string         `json:"result"`
	Rewards   map[string]int `json:"rewards,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// chat_broadcast
type ChatBroadcastPayload struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Text          string `json:"text"`
}

// error
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ping / pong
type PingPayload struct {
	TS int64 `json:"ts,omitempty"`
}

type PongPayload struct {
	TS int64 `json:"ts"`
}

// SessionView is the wire representation of session metadata (never the
// simulation state itself).
type SessionView struct {
	ID           string            `json:"id"`
	JoinCode     string            `json:"joinCode"`
	DirectorID   string            `json:"directorId"`
	Status       string            `json:"status"`
	Version      uint64            `json:"version"`
	Participants []ParticipantView `json:"participants"`
}

type ParticipantView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Role             string `json:"role"`
	Connected        bool   `json:"connected"`
	Ready            bool   `json:"ready"`
	ControlledEntity string `json:"controlledEntity,omitempty"`
}
