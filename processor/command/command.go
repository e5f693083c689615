// Package command is the bus-side handler of the webhook gateway. It accepts
// configuration commands addressed to the service and currently acts on none
// of them.
package command

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/message"
)

// Processor handles {service}.command.configure.
type Processor struct {
	serviceID string
	logger    *slog.Logger

	mu        sync.RWMutex
	publisher message.Publisher
}

// NewProcessor creates the command processor of serviceID.
func NewProcessor(serviceID string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default().With("component", "command-processor")
	}
	return &Processor{serviceID: serviceID, logger: logger}
}

// ConfigureSubject is the subject configure commands arrive on.
func (p *Processor) ConfigureSubject() string {
	return p.serviceID + ".command.configure"
}

// SubjectsOfInterest lists the subjects this processor consumes.
func (p *Processor) SubjectsOfInterest() []string {
	return []string{p.ConfigureSubject()}
}

// Init keeps the publisher for later replies.
func (p *Processor) Init(_ context.Context, publisher message.Publisher) error {
	if publisher == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Processor", "Init", "publisher is required")
	}
	p.mu.Lock()
	p.publisher = publisher
	p.mu.Unlock()
	return nil
}

// Handle accepts a configure command. A payload that is not an object is
// refused.
func (p *Processor) Handle(_ context.Context, subject string, env *message.Envelope) error {
	if env.HasPayload() && env.PayloadKind() != "object" {
		return errors.Refuse("configure payload must be an object", map[string]any{
			"expected": "object",
			"received": env.PayloadKind(),
		})
	}
	p.logger.Debug("Configure command accepted", "subject", subject, "id", env.ID, "origin", env.Origin)
	return nil
}

// Stop drops the publisher.
func (p *Processor) Stop(context.Context) error {
	p.mu.Lock()
	p.publisher = nil
	p.mu.Unlock()
	return nil
}
