package service

import (
	"context"
	"sync"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// PausedEvent is the payload of the paused lifecycle event.
type PausedEvent struct {
	Reason            string       `json:"reason"`
	ResumeNatsCommand string       `json:"resumeNatsCommand"`
	LastError         FailureEvent `json:"lastError"`
}

// Start subscribes telemetry, initializes the handler, provisions streams
// and starts one supervisor per stream. Any failure is fatal: the runtime
// releases its connection and ends stopped.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start", "start runtime")
	}
	g.started = true
	g.mu.Unlock()

	if err := g.start(ctx); err != nil {
		g.abort()
		return err
	}
	return nil
}

func (g *Gateway) start(ctx context.Context) error {
	if err := g.subscribeTelemetry(ctx); err != nil {
		return errors.WrapFatal(err, "Gateway", "Start", "subscribe telemetry")
	}

	if err := g.handler.Init(ctx, g); err != nil {
		return errors.WrapFatal(err, "Gateway", "Start", "initialize handler")
	}

	subjects := g.handler.SubjectsOfInterest()
	g.logger.Info("Listening for messages", "subjects", subjects)

	streams, err := g.provisionStreams(ctx, subjects)
	if err != nil {
		return err
	}

	slots := make([]*consumerSlot, 0, len(streams))
	for _, stream := range streams {
		consumer, err := g.transport.EnsureDurable(ctx, stream, g.cfg.ServiceID, g.cfg.AckWait)
		if err != nil {
			return errors.WrapFatal(err, "Gateway", "Start", "set up consumer for stream "+stream)
		}
		slots = append(slots, g.addSlot(consumer))
		g.logger.Info("Consumer ready", "stream", stream, "durable", g.cfg.ServiceID)
	}

	g.mu.Lock()
	if g.tearingDown {
		g.mu.Unlock()
		return errors.WrapFatal(errors.ErrShuttingDown, "Gateway", "Start", "start supervisors")
	}
	g.supervisors = len(slots)
	g.setStateLocked(StateRunning)
	g.mu.Unlock()

	for _, slot := range slots {
		go g.supervise(slot)
	}
	return nil
}

// NotifyStarted publishes the started lifecycle event. The process calls it
// once the webhook surface is serving.
func (g *Gateway) NotifyStarted(ctx context.Context) {
	g.publishEvent(ctx, g.subjects.started, nil)
}

// abort releases a runtime whose Start failed.
func (g *Gateway) abort() {
	g.mu.Lock()
	g.tearingDown = true
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.StopTimeout)
	defer cancel()

	g.halt(ctx)
	g.teardown(ctx)
	g.finish(OutcomeStopped)
}

// Stop ends the runtime for good: it publishes the stopped event, halts the
// consumers, waits for them to drain and closes the connection. Stopping a
// paused runtime abandons its resume wait.
func (g *Gateway) Stop(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopCh) })

	g.mu.Lock()
	owner := !g.tearingDown
	if owner {
		g.tearingDown = true
		g.setStateLocked(StateStopping)
	}
	g.mu.Unlock()

	if owner {
		stopCtx, cancel := context.WithTimeout(ctx, g.cfg.StopTimeout)
		defer cancel()

		g.publishEvent(stopCtx, g.subjects.stopped, nil)
		g.halt(stopCtx)
		g.teardown(stopCtx)
		g.finish(OutcomeStopped)
		return nil
	}

	// a pause owns the teardown and observes stopCh
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Gateway", "Stop", "wait for runtime to end")
	}
}

// enterPause runs on the dispatch path of the failure that reached the
// limit. It halts every session, so no further message is dispatched, and
// publishes the paused event. It reports false when a stop got there first.
func (g *Gateway) enterPause(lastError FailureReport) bool {
	g.mu.Lock()
	if g.tearingDown {
		g.mu.Unlock()
		return false
	}
	g.tearingDown = true
	g.setStateLocked(StatePaused)
	limit := g.cfg.FailuresLimit
	g.mu.Unlock()

	g.haltSessions()

	if g.metrics != nil {
		g.metrics.RecordPause(g.cfg.ServiceID)
	}
	g.logger.Warn("Pausing after consecutive failures", "limit", limit, "resume_subject", g.subjects.resume)

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.StopTimeout)
	defer cancel()
	g.publishEvent(ctx, g.subjects.paused, PausedEvent{
		Reason:            "Too many consecutive failures, check failures log.",
		ResumeNatsCommand: g.subjects.resume,
		LastError:         FailureEvent{Message: lastError},
	})
	return true
}

// completePause waits for the supervisors to exit and for the resume
// command, then releases the connection and ends with a restart.
func (g *Gateway) completePause() {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.StopTimeout)
	g.halt(ctx)
	cancel()

	outcome := OutcomeRestart
	if !g.awaitResume() {
		outcome = OutcomeStopped
	}

	ctx, cancel = context.WithTimeout(context.Background(), g.cfg.StopTimeout)
	defer cancel()
	if outcome == OutcomeStopped {
		g.mu.Lock()
		g.setStateLocked(StateStopping)
		g.mu.Unlock()
		g.publishEvent(ctx, g.subjects.stopped, nil)
	}
	g.teardown(ctx)
	g.finish(outcome)
}

// awaitResume blocks until one message arrives on the resume subject, or a
// stop is requested. It reports whether the runtime was resumed.
func (g *Gateway) awaitResume() bool {
	resumed := make(chan struct{})
	var once sync.Once
	sub, err := g.transport.Subscribe(context.Background(), g.subjects.resume,
		func(_ context.Context, _ string, _ []byte) {
			once.Do(func() { close(resumed) })
		})
	if err != nil {
		// a restart rebuilds the connection, which is the best hope here
		g.logger.Error("Failed to subscribe to resume command, restarting", "subject", g.subjects.resume, "error", err)
		return true
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			g.logger.Warn("Failed to unsubscribe resume command", "error", err)
		}
	}()

	g.logger.Info("Runtime paused, waiting for resume command", "subject", g.subjects.resume)
	select {
	case <-resumed:
		g.logger.Info("Resume command received, restarting")
		return true
	case <-g.stopCh:
		return false
	}
}

// halt stops consumption and telemetry and waits for every supervisor to
// exit, bounded by ctx.
func (g *Gateway) halt(ctx context.Context) {
	g.haltSessions()
	g.unsubscribeTelemetry()

	g.mu.Lock()
	if g.stoppedCount >= g.supervisors {
		g.signalAllStopped()
	}
	g.mu.Unlock()

	select {
	case <-g.allStopped:
	case <-ctx.Done():
		g.logger.Warn("Consumers did not stop in time", "timeout", g.cfg.StopTimeout)
	}
	g.cancelRun()
}

// teardown stops the handler and drains and closes the connection.
func (g *Gateway) teardown(ctx context.Context) {
	if err := g.handler.Stop(ctx); err != nil {
		g.logger.Warn("Handler stop failed", "error", err)
	}
	if err := g.transport.Close(ctx); err != nil {
		g.logger.Warn("Connection close failed", "error", err)
	}
	g.logger.Info("Connection closed")
}
