package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned when a frame is not a JSON object
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for envelopes whose type has no handler
	ErrUnknownType = errors.New("unknown message type")
)

// Envelope is a decoded but not yet validated wire message. Raw keeps the
// exact bytes received so that valid messages can be relayed unchanged.
type Envelope struct {
	Type   MessageType
	Raw    []byte
	fields map[string]json.RawMessage
}

// Decode parses a frame into an Envelope
func Decode(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	env := &Envelope{
		Raw:    raw,
		fields: fields,
	}
	if typ, ok := env.String("type"); ok {
		env.Type = MessageType(typ)
	}

	return env, nil
}

// Has reports whether the key is present and not null
func (e *Envelope) Has(key string) bool {
	raw, ok := e.fields[key]
	return ok && !isNull(raw)
}

// String returns the field as a string when it is a JSON string
func (e *Envelope) String(key string) (string, bool) {
	return stringOf(e.fields[key])
}

// Number returns the field as a float64 when it is a JSON number
func (e *Envelope) Number(key string) (float64, bool) {
	return numberOf(e.fields[key])
}

// Object returns the field as a nested object
func (e *Envelope) Object(key string) (map[string]json.RawMessage, bool) {
	raw, ok := e.fields[key]
	if !ok || isNull(raw) {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// with returns a copy of the envelope bytes with key replaced by value
func (e *Envelope) with(key string, value interface{}) ([]byte, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", key, err)
	}

	fields := make(map[string]json.RawMessage, len(e.fields))
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = encoded

	return json.Marshal(fields)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func stringOf(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func numberOf(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func boolOf(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 {
		return false, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
