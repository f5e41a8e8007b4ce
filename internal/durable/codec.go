package durable

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Payloads reuse json struct tags so request types need a single tag set.
const structTag = "json"

func encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(structTag)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	if v == nil || len(data) == 0 {
		return nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag(structTag)
	return dec.Decode(v)
}

// Records are base64 text so binary msgpack survives TEXT columns.
func marshalInstance(inst *Instance) (string, error) {
	data, err := msgpack.Marshal(inst)
	if err != nil {
		return "", fmt.Errorf("encode instance %s: %w", inst.ID, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func unmarshalInstance(value string) (*Instance, error) {
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode instance record: %w", err)
	}
	var inst Instance
	if err := msgpack.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance record: %w", err)
	}
	return &inst, nil
}

// Payload is an encoded orchestrator or activity input.
type Payload []byte

// Decode decodes the payload into v.
func (p Payload) Decode(v any) error {
	return decode(p, v)
}

// DecodeAny decodes an encoded value into generic maps and slices for display.
func DecodeAny(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out any
	if err := decode(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
