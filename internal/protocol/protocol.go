package protocol

import "encoding/json"

const Version = "1.0"

// Inbound message types (client -> server).
const (
	TypeAuth            = "auth"
	TypeCreateSession   = "create_session"
	TypeJoinSession     = "join_session"
	TypeLeaveSession    = "leave_session"
	TypeSetReady        = "set_ready"
	TypeAction          = "action"
	TypePrivilegedCmd   = "privileged_command"
	TypeChat            = "chat"
	TypeRequestFullSync = "request_full_sync"
	TypePing            = "ping"
)

// Outbound message types (server -> client).
const (
	TypeAuthResult              = "auth_result"
	TypeSessionCreated          = "session_created"
	TypeSessionJoined           = "session_joined"
	TypeFullState               = "full_state"
	TypeStateDelta              = "state_delta"
	TypeEvents                  = "events"
	TypeTurnChanged             = "turn_changed"
	TypeParticipantJoined       = "participant_joined"
	TypeParticipantLeft         = "participant_left"
	TypeParticipantReadyChanged = "participant_ready_changed"
	TypeSessionEnded            = "session_ended"
	TypeChatBroadcast           = "chat_broadcast"
	TypeError                   = "error"
	TypePong                    = "pong"
)

// Envelope is the bidirectional transport frame. Server responses to a
// specific client request additionally set ReqSeq and Success.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     int64           `json:"seq"`
	TS      int64           `json:"ts"`

	ReqSeq  *int64 `json:"reqSeq,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(b, &e)
	return e, err
}

// MustPayload marshals v as an envelope payload. Payload structs in this
// package contain nothing that can fail to marshal.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Response builds a server reply envelope for the request carrying reqSeq.
func Response(msgType string, payload any, reqSeq int64, ts int64) Envelope {
	ok := true
	return Envelope{
		Type:    msgType,
		Payload: MustPayload(payload),
		TS:      ts,
		ReqSeq:  &reqSeq,
		Success: &ok,
	}
}

// ErrorResponse builds a failed reply carrying a structured error payload.
func ErrorResponse(code, message string, reqSeq int64, ts int64) Envelope {
	ok := false
	return Envelope{
		Type:    TypeError,
		Payload: MustPayload(ErrorPayload{Code: code, Message: message}),
		TS:      ts,
		ReqSeq:  &reqSeq,
		Success: &ok,
		Error:   code,
	}
}

// Push builds a server-initiated envelope (broadcasts, sync pushes).
func Push(msgType string, payload any, ts int64) Envelope {
	return Envelope{
		Type:    msgType,
		Payload: MustPayload(payload),
		TS:      ts,
	}
}
