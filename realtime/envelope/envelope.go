package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned (wrapped in a DecodeError) when a frame is valid
// JSON but not an object.
var ErrNotObject = errors.New("frame is not a JSON object")

// Envelope is the {type, payload} wrapper carried by every frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeError reports an inbound frame that could not be parsed.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", len(e.Frame), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode serializes msgType and payload into a text frame.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %q payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// New encodes a statically typed payload.
func New[T any](msgType string, payload T) ([]byte, error) {
	return Encode(msgType, payload)
}

// Decode parses an inbound frame.
func Decode(frame []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return Envelope{}, &DecodeError{Frame: frame, Err: errors.New("empty frame")}
	}
	if trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			return Envelope{}, &DecodeError{Frame: frame, Err: errors.New("invalid JSON")}
		}
		return Envelope{}, &DecodeError{Frame: frame, Err: ErrNotObject}
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, &DecodeError{Frame: frame, Err: err}
	}
	return env, nil
}

// Unmarshal narrows the envelope payload to T. A missing or null payload
// yields the zero value of T.
func Unmarshal[T any](env Envelope) (T, error) {
	var out T
	if isNull(env.Payload) {
		return out, nil
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("payload of %q: %w", env.Type, err)
	}
	return out, nil
}

// PayloadIsNull reports whether the payload is absent or JSON null.
func (e Envelope) PayloadIsNull() bool {
	return isNull(e.Payload)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
