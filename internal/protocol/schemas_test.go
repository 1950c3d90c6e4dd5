package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tilesync.io/internal/protocol"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	p := filepath.Join("..", "..", "schemas", name)
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func validate(t *testing.T, s *jsonschema.Schema, v any) {
	t.Helper()
	if err := s.Validate(v); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

// roundTrip turns a Go message into the generic form the validator expects.
func roundTrip(t *testing.T, msg any) any {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return v
}

func TestSchemas_ValidateSamples(t *testing.T) {
	helloSchema := compileSchema(t, "hello.schema.json")
	welcomeSchema := compileSchema(t, "welcome.schema.json")
	commandSchema := compileSchema(t, "command.schema.json")
	errorSchema := compileSchema(t, "error.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "viewer_name":"viewer1",
	  "capabilities":{"max_queue":32},
	  "auth":{"token":"resume_0b6f1d2e"}
	}`), &hello)
	validate(t, helloSchema, hello)

	var move any
	_ = json.Unmarshal([]byte(`{
	  "type":"COMMAND",
	  "protocol_version":"1.0",
	  "seq":4,
	  "command":"MOVE",
	  "direction":"NORTHEAST"
	}`), &move)
	validate(t, commandSchema, move)

	validate(t, welcomeSchema, roundTrip(t, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "9a3c1d7e-54a2-4b11-8f7e-0c2d2f0d3b44",
		EntityID:        7,
		ResumeToken:     "resume_9a3c1d7e",
		WorldParams: protocol.WorldParams{
			WorldID:      "station_1",
			TickRateHz:   10,
			BlockSize:    10,
			Depth:        1,
			FOV:          15,
			Padding:      2,
			WindowBlocks: 3,
			TilePixels:   32,
		},
	}))
	validate(t, commandSchema, roundTrip(t, protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		Seq:             9,
		Command:         protocol.CmdClick,
		Target:          12,
	}))
	validate(t, errorSchema, roundTrip(t, protocol.NewError(protocol.ErrRateLimit, "slow down")))
}

func TestSchemas_RejectUnknownCommand(t *testing.T) {
	commandSchema := compileSchema(t, "command.schema.json")
	var bad any
	_ = json.Unmarshal([]byte(`{"type":"COMMAND","protocol_version":"1.0","seq":1,"command":"SAY"}`), &bad)
	if err := commandSchema.Validate(bad); err == nil {
		t.Fatalf("SAY should not validate as a command")
	}
}
