package schedule

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"voice2action/internal/pipeline"
	"voice2action/internal/services"
)

//go:embed tick.schema.json
var tickSchemaJSON string

const tickSchemaURL = "https://voice2action.local/schema/tick.json"

var (
	tickSchemaOnce sync.Once
	tickSchema     *jsonschema.Schema
	tickSchemaErr  error
)

func compiledTickSchema() (*jsonschema.Schema, error) {
	tickSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(tickSchemaJSON))
		if err != nil {
			tickSchemaErr = fmt.Errorf("parse tick schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(tickSchemaURL, doc); err != nil {
			tickSchemaErr = fmt.Errorf("load tick schema: %w", err)
			return
		}
		tickSchema, tickSchemaErr = compiler.Compile(tickSchemaURL)
	})
	return tickSchema, tickSchemaErr
}

// DecodePayload validates a tick payload and decodes the run configuration.
func DecodePayload(payload []byte) (pipeline.RunConfig, error) {
	var cfg pipeline.RunConfig
	schema, err := compiledTickSchema()
	if err != nil {
		return cfg, services.Wrap(services.ErrConfiguration, "schedule", "schema", "tick schema unavailable", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return cfg, services.Wrap(services.ErrValidation, "schedule", "payload", "tick payload is not JSON", err)
	}
	if err := schema.Validate(doc); err != nil {
		return cfg, services.Wrap(services.ErrValidation, "schedule", "payload", "tick payload does not match schema", err)
	}
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return cfg, services.Wrap(services.ErrValidation, "schedule", "payload", "decode tick payload", err)
	}
	return cfg, nil
}

// EncodePayload renders cfg as a tick payload.
func EncodePayload(cfg pipeline.RunConfig) ([]byte, error) {
	return json.Marshal(cfg)
}
