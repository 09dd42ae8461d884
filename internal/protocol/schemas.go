package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// One schema per inbound variant; payloads are validated against these
// before any handler sees them.
var inboundSchemas = map[string]string{
	TypeAuth:            "auth.schema.json",
	TypeCreateSession:   "create_session.schema.json",
	TypeJoinSession:     "join_session.schema.json",
	TypeLeaveSession:    "leave_session.schema.json",
	TypeSetReady:        "set_ready.schema.json",
	TypeAction:          "action.schema.json",
	TypePrivilegedCmd:   "privileged_command.schema.json",
	TypeChat:            "chat.schema.json",
	TypeRequestFullSync: "request_full_sync.schema.json",
	TypePing:            "ping.schema.json",
}

var compiled = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	out := make(map[string]*jsonschema.Schema, len(inboundSchemas))
	for msgType, name := range inboundSchemas {
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			panic(fmt.Sprintf("embedded schema %s: %v", name, err))
		}
		if err := c.AddResource(name, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("add schema %s: %v", name, err))
		}
		out[msgType] = c.MustCompile(name)
	}
	return out
}

// IsInbound reports whether msgType is a recognized client message.
func IsInbound(msgType string) bool {
	_, ok := inboundSchemas[msgType]
	return ok
}

// ValidatePayload checks raw against the schema for msgType. A nil payload
// is validated as an empty object so variants with no required fields (ping)
// accept an omitted payload.
func ValidatePayload(msgType string, raw json.RawMessage) error {
	s, ok := compiled[msgType]
	if !ok {
		return fmt.Errorf("unknown message type %q", msgType)
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("payload not valid json: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("payload schema: %w", err)
	}
	return nil
}
