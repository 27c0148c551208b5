package channel

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound event names.
const (
	eventAuth  = "auth"
	eventOpen  = "openEntity"
	eventClose = "closeEntity"
)

// Outbound event names.
const (
	EventLocked   = "entityLocked"
	EventUnlocked = "entityUnlocked"
)

// envelope is the wire frame for every message in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type authPayload struct {
	Token string `json:"token"`
}

type entityPayload struct {
	Resource string `json:"resource"`
	Instance string `json:"instance"`
	UserID   string `json:"userId,omitempty"`
}

// Payloads are validated against schemas before any state mutation.
const authSchema = `{
  "type": "object",
  "required": ["token"],
  "properties": {
    "token": {"type": "string", "minLength": 1}
  }
}`

const entitySchema = `{
  "type": "object",
  "required": ["resource", "instance"],
  "properties": {
    "resource": {"type": "string", "minLength": 1},
    "instance": {"type": "string", "minLength": 1},
    "userId": {"type": "string"}
  }
}`

var (
	compiledAuthSchema   = mustCompileSchema("auth.json", authSchema)
	compiledEntitySchema = mustCompileSchema("entity.json", entitySchema)
)

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile(name)
}

func parseEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("missing event name")
	}
	return &env, nil
}

func parseAuth(data json.RawMessage) (*authPayload, error) {
	if err := validate(compiledAuthSchema, data); err != nil {
		return nil, err
	}
	var payload authPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode auth payload: %w", err)
	}
	return &payload, nil
}

func parseEntity(data json.RawMessage) (*entityPayload, error) {
	if err := validate(compiledEntitySchema, data); err != nil {
		return nil, err
	}
	var payload entityPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode entity payload: %w", err)
	}
	return &payload, nil
}

func validate(schema *jsonschema.Schema, data json.RawMessage) error {
	if len(data) == 0 {
		return fmt.Errorf("missing payload")
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	return nil
}

func encodeEvent(event, resource, instance string) ([]byte, error) {
	data, err := json.Marshal(entityPayload{Resource: resource, Instance: instance})
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}
