package message

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// requiredFields must be present and truthy on every received envelope.
var requiredFields = []string{"id", "origin", "timestamp"}

// Codec stamps outgoing envelopes with a fresh identity and validates incoming ones.
type Codec struct {
	origin string
	now    func() time.Time
	newID  func() string
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source used for envelope timestamps.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// WithIDGenerator overrides envelope id generation.
func WithIDGenerator(gen func() string) CodecOption {
	return func(c *Codec) {
		c.newID = gen
	}
}

// NewCodec creates a codec stamping envelopes with the given origin.
func NewCodec(origin string, opts ...CodecOption) *Codec {
	c := &Codec{
		origin: origin,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Origin returns the origin stamped on envelopes.
func (c *Codec) Origin() string {
	return c.origin
}

// Option adjusts a single envelope at encode time.
type Option func(*Envelope)

// WithRequestID marks the envelope as a request awaiting a correlated reply.
func WithRequestID(id string) Option {
	return func(e *Envelope) {
		e.RequestID = id
	}
}

// Envelope builds a stamped envelope around payload without serializing it.
func (c *Codec) Envelope(payload any, opts ...Option) (*Envelope, error) {
	env := &Envelope{
		ID:        c.newID(),
		Origin:    c.origin,
		Timestamp: c.now().UnixMilli(),
	}

	if payload != nil {
		raw, ok := payload.(json.RawMessage)
		if !ok {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, errors.WrapInvalid(err, "Codec", "Envelope", "marshal payload")
			}
			raw = data
		}
		env.Payload = raw
	}

	for _, opt := range opts {
		opt(env)
	}
	return env, nil
}

// Encode stamps payload into a new envelope and serializes it.
func (c *Codec) Encode(payload any, opts ...Option) ([]byte, error) {
	env, err := c.Envelope(payload, opts...)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Codec", "Encode", "marshal envelope")
	}
	return data, nil
}

// Decode parses and validates a received envelope. Any failure is classified
// invalid so that the dispatcher refuses the message instead of retrying it.
func Decode(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Codec", "Decode", "parse envelope")
	}
	if fields == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Codec", "Decode", "parse envelope")
	}

	for _, name := range requiredFields {
		if !truthy(fields[name]) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrMissingField, name),
				"Codec", "Decode", "validate envelope")
		}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
			"Codec", "Decode", "decode envelope")
	}
	return &env, nil
}

// truthy treats absent, null, false, zero and empty string as missing.
func truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "false", `""`, "0":
		return false
	}
	return true
}

// Publisher sends payloads to the bus wrapped in stamped envelopes.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any, opts ...Option) error
}
