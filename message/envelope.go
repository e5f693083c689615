package message

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// Envelope is the wrapper every message on the bus travels in.
//
// ID, Origin and Timestamp are stamped by the publisher at send time and are
// mandatory on receipt. Timestamp is milliseconds since the Unix epoch.
// RequestID is only set on requests that expect a correlated reply.
type Envelope struct {
	ID        string          `json:"id"`
	Origin    string          `json:"origin"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Time returns the envelope timestamp as a time.Time.
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// HasPayload reports whether the envelope carries a non-null payload.
func (e *Envelope) HasPayload() bool {
	trimmed := bytes.TrimSpace(e.Payload)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// UnmarshalPayload decodes the payload into v.
func (e *Envelope) UnmarshalPayload(v any) error {
	if !e.HasPayload() {
		return errors.WrapInvalid(errors.ErrMissingField, "Envelope", "UnmarshalPayload", "read payload")
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.WrapInvalid(err, "Envelope", "UnmarshalPayload", "decode payload")
	}
	return nil
}

// PayloadKind returns the JSON kind of the payload: "object", "array",
// "string", "number", "boolean", "null" or "" when absent.
func (e *Envelope) PayloadKind() string {
	return jsonKind(e.Payload)
}

func jsonKind(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '{':
		return "object"
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
