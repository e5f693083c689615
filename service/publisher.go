package service

import (
	"context"
	"strings"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/message"
)

// lifecycleSubjects are the runtime's own event subjects.
type lifecycleSubjects struct {
	started         string
	stopped         string
	paused          string
	processingError string
	commandRefused  string
	resume          string
}

func newLifecycleSubjects(serviceID string) lifecycleSubjects {
	events := serviceID + ".event.service."
	return lifecycleSubjects{
		started:         events + "started",
		stopped:         events + "stopped",
		paused:          events + "paused",
		processingError: events + "processing_error",
		commandRefused:  events + "command_refused",
		resume:          serviceID + ".command.service.resume",
	}
}

// ResumeSubject is the subject a paused runtime waits on.
func (g *Gateway) ResumeSubject() string {
	return g.subjects.resume
}

// Publish stamps payload into an envelope and publishes it to the stream
// covering subject. Gateway is the message.Publisher of its handler and of
// the webhook router.
func (g *Gateway) Publish(ctx context.Context, subject string, payload any, opts ...message.Option) error {
	data, err := g.codec.Encode(payload, opts...)
	if err != nil {
		return errors.Wrap(err, "Gateway", "Publish", "encode message for "+subject)
	}
	if err := g.transport.PublishToStream(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "Gateway", "Publish", "publish "+subject)
	}
	if g.metrics != nil {
		g.metrics.RecordPublished(g.cfg.ServiceID, g.kindOf(subject))
	}
	return nil
}

// publishEvent publishes a lifecycle or failure event. A failure is logged
// and otherwise ignored.
func (g *Gateway) publishEvent(ctx context.Context, subject string, payload any) {
	if payload == nil {
		payload = struct{}{}
	}
	if err := g.Publish(ctx, subject, payload); err != nil {
		g.logger.Error("Failed to publish event", "subject", subject, "error", err)
	}
}

// kindOf labels a subject by its first token under the service namespace.
func (g *Gateway) kindOf(subject string) string {
	rest, ok := strings.CutPrefix(subject, g.cfg.ServiceID+".")
	if !ok {
		return "foreign"
	}
	kind, _, _ := strings.Cut(rest, ".")
	return kind
}
