package service

import (
	"context"
	"time"

	"github.com/jetdream/webhook-nats-gateway/natsclient"
)

// Unsubscriber ends a core subscription.
type Unsubscriber interface {
	Unsubscribe() error
}

// Transport is the broker surface a runtime needs. NewNATSTransport adapts
// a *natsclient.Client.
type Transport interface {
	StreamNameBySubject(ctx context.Context, subject string) (string, error)
	StreamExists(ctx context.Context, name string) (bool, error)
	CreateStream(ctx context.Context, name string, subjects []string) error
	EnsureDurable(ctx context.Context, stream, durable string, ackWait time.Duration) (natsclient.Consumer, error)
	PublishToStream(ctx context.Context, subject string, data []byte) error
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(ctx context.Context, subject string, data []byte)) (Unsubscriber, error)
	Close(ctx context.Context) error
}

type natsTransport struct {
	*natsclient.Client
}

// NewNATSTransport wraps client as a Transport.
func NewNATSTransport(client *natsclient.Client) Transport {
	return natsTransport{Client: client}
}

func (t natsTransport) Subscribe(ctx context.Context, subject string,
	handler func(ctx context.Context, subject string, data []byte),
) (Unsubscriber, error) {
	sub, err := t.Client.Subscribe(ctx, subject, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
