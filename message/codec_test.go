package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

func fixedCodec() *Codec {
	now := time.UnixMilli(1718000000000)
	return NewCodec("billing",
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "id-1" }),
	)
}

func TestCodec_EncodeStampsIdentity(t *testing.T) {
	codec := fixedCodec()

	data, err := codec.Encode(map[string]any{"amount": 12}, WithRequestID("req-7"))
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "id-1", env.ID)
	assert.Equal(t, "billing", env.Origin)
	assert.Equal(t, int64(1718000000000), env.Timestamp)
	assert.Equal(t, "req-7", env.RequestID)
	assert.JSONEq(t, `{"amount":12}`, string(env.Payload))
	assert.Equal(t, "object", env.PayloadKind())
}

func TestCodec_FreshIDPerSend(t *testing.T) {
	codec := NewCodec("billing")

	first, err := codec.Envelope("a")
	require.NoError(t, err)
	second, err := codec.Envelope("a")
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, first.RequestID)
}

func TestCodec_RawPayloadPassesThrough(t *testing.T) {
	env, err := fixedCodec().Envelope(json.RawMessage(`[1,2,3]`))
	require.NoError(t, err)
	assert.Equal(t, `[1,2,3]`, string(env.Payload))
	assert.Equal(t, "array", env.PayloadKind())
}

func TestCodec_UnmarshalablePayload(t *testing.T) {
	_, err := fixedCodec().Encode(make(chan int))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{nope`},
		{"not an object", `[1,2]`},
		{"null", `null`},
		{"missing id", `{"origin":"a","timestamp":1}`},
		{"empty id", `{"id":"","origin":"a","timestamp":1}`},
		{"null origin", `{"id":"x","origin":null,"timestamp":1}`},
		{"zero timestamp", `{"id":"x","origin":"a","timestamp":0}`},
		{"missing timestamp", `{"id":"x","origin":"a"}`},
		{"timestamp wrong type", `{"id":"x","origin":"a","timestamp":"soon"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.Nil(t, env)
			assert.True(t, errors.IsInvalid(err), "expected invalid class, got %v", err)
		})
	}
}

func TestDecode_PayloadOptional(t *testing.T) {
	env, err := Decode([]byte(`{"id":"x","origin":"a","timestamp":5}`))
	require.NoError(t, err)
	assert.False(t, env.HasPayload())
	assert.Equal(t, "", env.PayloadKind())

	var v map[string]any
	assert.True(t, errors.IsInvalid(env.UnmarshalPayload(&v)))
}
