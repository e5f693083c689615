package service

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jetdream/webhook-nats-gateway/natsclient"
)

func (g *Gateway) addSlot(consumer natsclient.Consumer) *consumerSlot {
	slot := &consumerSlot{id: ulid.Make(), consumer: consumer}
	g.sessionsMu.Lock()
	g.slots[slot.id] = slot
	g.sessionsMu.Unlock()
	return slot
}

// attach records the open session of slot. It refuses once the runtime is
// terminated, so a session opened during halting is never left running.
func (g *Gateway) attach(slot *consumerSlot, session natsclient.Session) bool {
	g.sessionsMu.Lock()
	defer g.sessionsMu.Unlock()
	if g.terminated.Load() {
		return false
	}
	slot.session = session
	return true
}

func (g *Gateway) detach(slot *consumerSlot) {
	g.sessionsMu.Lock()
	slot.session = nil
	g.sessionsMu.Unlock()
}

// haltSessions sets the terminated flag and stops every open session.
func (g *Gateway) haltSessions() {
	g.haltOnce.Do(func() {
		g.terminated.Store(true)
		close(g.haltCh)
	})

	g.sessionsMu.Lock()
	defer g.sessionsMu.Unlock()
	for _, slot := range g.slots {
		if slot.session != nil {
			slot.session.Stop()
		}
	}
}

// supervise keeps a session open on slot until the runtime terminates.
func (g *Gateway) supervise(slot *consumerSlot) {
	defer g.supervisorStopped()

	logger := g.logger.With("stream", slot.consumer.Stream(), "consumer", slot.consumer.Name(), "slot", slot.id.String())

	for !g.terminated.Load() {
		session, err := slot.consumer.Open(g.cfg.HeartbeatInterval)
		if err != nil {
			logger.Warn("Failed to open consumption session", "error", err, "retry_in", g.cfg.SessionRetryDelay)
			g.recordSessionRestart(slot, "open_failed")
			if !g.sleep(g.cfg.SessionRetryDelay) {
				return
			}
			continue
		}
		if !g.attach(slot, session) {
			session.Stop()
			return
		}
		logger.Debug("Consumption session opened")

		ctx, cancel := context.WithCancel(g.runCtx)
		stalled := make(chan struct{})
		go g.watchHeartbeats(ctx, session, stalled)

		reason := g.consume(session, logger)

		cancel()
		session.Stop()
		g.detach(slot)

		if g.terminated.Load() {
			break
		}
		select {
		case <-stalled:
			reason = "heartbeat"
		default:
		}
		logger.Info("Reopening consumption session", "reason", reason)
		g.recordSessionRestart(slot, reason)
		if reason == "error" && !g.sleep(g.cfg.SessionRetryDelay) {
			break
		}
	}

	logger.Debug("Supervisor stopped")
}

// consume dispatches messages until the session ends and says why it ended.
func (g *Gateway) consume(session natsclient.Session, logger *slog.Logger) string {
	for {
		msg, err := session.Next()
		if err != nil {
			if stderrors.Is(err, natsclient.ErrSessionClosed) {
				return "closed"
			}
			logger.Warn("Consumption session failed", "error", err)
			return "error"
		}

		g.dispatch(g.runCtx, msg)

		if g.terminated.Load() {
			return "terminated"
		}
	}
}

// watchHeartbeats stops session after missedHeartbeatLimit missed heartbeats.
// It exits with ctx, which ends with the session.
func (g *Gateway) watchHeartbeats(ctx context.Context, session natsclient.Session, stalled chan<- struct{}) {
	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-session.MissedHeartbeats():
			missed++
			g.logger.Warn("Heartbeats missed", "count", missed)
			if missed >= missedHeartbeatLimit {
				close(stalled)
				session.Stop()
				return
			}
		}
	}
}

// sleep waits d unless the runtime halts first.
func (g *Gateway) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !g.terminated.Load()
	case <-g.haltCh:
		return false
	}
}

func (g *Gateway) supervisorStopped() {
	g.mu.Lock()
	g.stoppedCount++
	all := g.stoppedCount >= g.supervisors
	g.mu.Unlock()
	if all {
		g.signalAllStopped()
	}
}

func (g *Gateway) signalAllStopped() {
	g.allStoppedOnce.Do(func() { close(g.allStopped) })
}

func (g *Gateway) recordSessionRestart(slot *consumerSlot, reason string) {
	if g.metrics != nil {
		g.metrics.RecordSessionRestart(g.cfg.ServiceID, slot.consumer.Stream(), reason)
	}
}
