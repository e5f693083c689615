package service

import (
	"context"
	"encoding/json"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/message"
	"github.com/jetdream/webhook-nats-gateway/natsclient"
)

// Message outcomes. Every delivered message ends in exactly one of them.
const (
	outcomeAcked   = "acked"
	outcomeIgnored = "ignored"
	outcomeRefused = "refused"
	outcomeFailed  = "failed"
)

// FailureReport describes one failed message.
type FailureReport struct {
	Subject   string          `json:"subject"`
	Original  json.RawMessage `json:"original,omitempty"`
	Error     string          `json:"error"`
	ErrorJSON any             `json:"errorJson,omitempty"`
}

// FailureEvent is the payload of command_refused and processing_error
// events, and the lastError of the paused event.
type FailureEvent struct {
	Message FailureReport `json:"message"`
}

func (g *Gateway) dispatch(ctx context.Context, msg natsclient.Msg) {
	subject := msg.Subject()
	if _, ok := g.interest[subject]; !ok {
		g.logger.Debug("Ignoring message outside subjects of interest", "subject", subject)
		g.ack(msg)
		g.recordOutcome(outcomeIgnored)
		return
	}

	env, err := message.Decode(msg.Data())
	if err == nil {
		err = g.handler.Handle(ctx, subject, env)
	}
	if err == nil {
		g.ack(msg)
		g.resetFailures()
		g.recordOutcome(outcomeAcked)
		return
	}

	report := FailureReport{
		Subject:   subject,
		Error:     err.Error(),
		ErrorJSON: errors.DetailOf(err),
	}
	if data := msg.Data(); json.Valid(data) {
		report.Original = json.RawMessage(data)
	}

	if errors.Classify(err) == errors.ErrorInvalid {
		g.logger.Warn("Message refused", "subject", subject, "error", err)
		g.publishEvent(ctx, g.subjects.commandRefused, FailureEvent{Message: report})
		g.ack(msg)
		g.resetFailures()
		g.recordOutcome(outcomeRefused)
		return
	}

	g.logger.Error("Message processing failed", "subject", subject, "error", err)
	g.publishEvent(ctx, g.subjects.processingError, FailureEvent{Message: report})
	g.recordOutcome(outcomeFailed)

	// left unacked: the broker redelivers after the ack wait.
	// enterPause halts the sessions before consume asks for the next message.
	if g.countFailure() && g.enterPause(report) {
		go g.completePause()
	}
}

func (g *Gateway) ack(msg natsclient.Msg) {
	if err := msg.Ack(); err != nil {
		g.logger.Warn("Failed to ack message", "subject", msg.Subject(), "error", err)
	}
}

func (g *Gateway) resetFailures() {
	g.mu.Lock()
	g.failures = 0
	g.mu.Unlock()
	if g.metrics != nil {
		g.metrics.RecordConsecutiveFailures(g.cfg.ServiceID, 0)
	}
}

// countFailure increments the failure counter and reports whether this
// failure triggers the pause. It does so at most once per runtime.
func (g *Gateway) countFailure() bool {
	g.mu.Lock()
	g.failures++
	n := g.failures
	trigger := n >= g.cfg.FailuresLimit && !g.pauseTriggered && !g.tearingDown
	if trigger {
		g.pauseTriggered = true
	}
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordConsecutiveFailures(g.cfg.ServiceID, n)
	}
	return trigger
}

func (g *Gateway) recordOutcome(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordMessageOutcome(g.cfg.ServiceID, outcome)
	}
}
