package ipc

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://duodisplayd.dev/schema/"

var payloadSchemas = map[MessageType]string{
	MsgBridgeHello: "bridge-hello.schema.json",
	MsgPushPosture: "posture.schema.json",
	MsgPushFlip:    "flip.schema.json",
}

// Validator checks sensor bridge payloads against their JSON schemas.
type Validator struct {
	schemas map[MessageType]*jsonschema.Schema
}

// NewValidator compiles the embedded bridge schemas.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	for _, name := range payloadSchemas {
		data, err := schemaFS.ReadFile("schema/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBase+name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", name, err)
		}
	}

	v := &Validator{schemas: make(map[MessageType]*jsonschema.Schema, len(payloadSchemas))}
	for t, name := range payloadSchemas {
		schema, err := compiler.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[t] = schema
	}
	return v, nil
}

// Validate checks payload for message type t. Types without a schema pass.
func (v *Validator) Validate(t MessageType, payload []byte) error {
	schema, ok := v.schemas[t]
	if !ok {
		return nil
	}
	var instance any
	if err := json.Unmarshal(payload, &instance); err != nil {
		return fmt.Errorf("decode %s payload: %w", t, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("invalid %s payload: %w", t, err)
	}
	return nil
}
