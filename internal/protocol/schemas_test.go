package protocol

import (
	"encoding/json"
	"testing"
)

func TestEveryInboundTypeHasASchema(t *testing.T) {
	inbound := []string{
		TypeAuth, TypeCreateSession, TypeJoinSession, TypeLeaveSession,
		TypeSetReady, TypeAction, TypePrivilegedCmd, TypeChat,
		TypeRequestFullSync, TypePing,
	}
	for _, typ := range inbound {
		if !IsInbound(typ) {
			t.Fatalf("no schema registered for inbound type %s", typ)
		}
	}
	if IsInbound(TypeStateDelta) {
		t.Fatalf("outbound type validated as inbound")
	}
}

func TestValidatePayloadSamples(t *testing.T) {
	cases := []struct {
		name    string
		typ     string
		payload string
		ok      bool
	}{
		{"auth ok", TypeAuth, `{"token":"t1","name":"Ana"}`, true},
		{"auth missing token", TypeAuth, `{"name":"Ana"}`, false},
		{"auth empty token", TypeAuth, `{"token":""}`, false},
		{"create ok", TypeCreateSession, `{"config":{"maxParticipants":4,"difficulty":"hard","turnTimeoutSeconds":30}}`, true},
		{"create no config", TypeCreateSession, `{}`, false},
		{"create bad difficulty", TypeCreateSession, `{"config":{"maxParticipants":4,"difficulty":"nightmare"}}`, false},
		{"create negative timeout", TypeCreateSession, `{"config":{"maxParticipants":4,"turnTimeoutSeconds":-1}}`, false},
		{"join ok", TypeJoinSession, `{"joinCode":"ABC234"}`, true},
		{"join missing code", TypeJoinSession, `{}`, false},
		{"set_ready ok", TypeSetReady, `{"sessionId":"s1","ready":true}`, true},
		{"set_ready missing flag", TypeSetReady, `{"sessionId":"s1"}`, false},
		{"action ok", TypeAction, `{"sessionId":"s1","action":{"type":"move","params":{"x":1,"y":2}}}`, true},
		{"action missing type", TypeAction, `{"sessionId":"s1","action":{}}`, false},
		{"privileged ok", TypePrivilegedCmd, `{"sessionId":"s1","command":"pause"}`, true},
		{"privileged unknown command", TypePrivilegedCmd, `{"sessionId":"s1","command":"detonate"}`, false},
		{"chat ok", TypeChat, `{"sessionId":"s1","text":"hi"}`, true},
		{"chat empty text", TypeChat, `{"sessionId":"s1","text":""}`, false},
		{"full_sync ok", TypeRequestFullSync, `{"sessionId":"s1"}`, true},
		{"ping ok", TypePing, `{"ts":123}`, true},
		{"ping empty", TypePing, ``, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var raw json.RawMessage
			if tc.payload != "" {
				raw = json.RawMessage(tc.payload)
			}
			err := ValidatePayload(tc.typ, raw)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestEnvelopeResponseShape(t *testing.T) {
	env := Response(TypePong, PongPayload{TS: 42}, 7, 1000)
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["reqSeq"] != float64(7) || m["success"] != true {
		t.Fatalf("response envelope = %v", m)
	}

	errEnv := ErrorResponse(ErrNotYourTurn, "wait", 8, 1000)
	b, _ = json.Marshal(errEnv)
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal error env: %v", err)
	}
	if m["success"] != false || m["error"] != ErrNotYourTurn {
		t.Fatalf("error envelope = %v", m)
	}
}
