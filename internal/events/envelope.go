package events

import (
	"encoding/json"
	"fmt"
)

// Envelope wraps every websocket frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "sendMessage"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// Encode marshals body into a ready-to-send frame.
func Encode(event string, body any) ([]byte, error) {
	env := Envelope{Event: event}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Body = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame produced by Encode.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(frame, &env)
	return env, err
}
