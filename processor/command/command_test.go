package command

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/message"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any, ...message.Option) error { return nil }

func TestProcessor_Subjects(t *testing.T) {
	p := NewProcessor("hooks", nil)
	assert.Equal(t, []string{"hooks.command.configure"}, p.SubjectsOfInterest())
}

func TestProcessor_Init(t *testing.T) {
	p := NewProcessor("hooks", nil)
	assert.Error(t, p.Init(context.Background(), nil))
	require.NoError(t, p.Init(context.Background(), nopPublisher{}))
	require.NoError(t, p.Stop(context.Background()))
}

func TestProcessor_Handle(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		refused bool
	}{
		{"object", `{"rate":80}`, false},
		{"absent", ``, false},
		{"null", `null`, false},
		{"array", `[1]`, true},
		{"string", `"x"`, true},
		{"number", `3`, true},
	}

	p := NewProcessor("hooks", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &message.Envelope{ID: "1", Origin: "ops", Timestamp: 1, Payload: json.RawMessage(tt.payload)}
			err := p.Handle(context.Background(), p.ConfigureSubject(), env)
			if !tt.refused {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrRefused)
			assert.NotNil(t, errors.DetailOf(err))
		})
	}
}
