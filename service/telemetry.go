package service

import (
	"context"
	"encoding/json"
)

const (
	telemetrySubjects        = "services.>"
	discoveryRequestSubject  = "services.discovery.request"
	discoveryResponseSubject = "services.discovery.response"
)

// DiscoveryResponse answers a discovery request.
type DiscoveryResponse struct {
	RequestID string `json:"requestId,omitempty"`
	ServiceID string `json:"serviceId"`
	Status    string `json:"status"`
}

func (g *Gateway) subscribeTelemetry(ctx context.Context) error {
	sub, err := g.transport.Subscribe(ctx, telemetrySubjects, g.handleTelemetry)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.telemetry = sub
	g.mu.Unlock()
	return nil
}

func (g *Gateway) unsubscribeTelemetry() {
	g.mu.Lock()
	sub := g.telemetry
	g.telemetry = nil
	g.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		g.logger.Warn("Failed to unsubscribe telemetry", "error", err)
	}
}

func (g *Gateway) handleTelemetry(ctx context.Context, subject string, data []byte) {
	g.logger.Debug("Telemetry message", "subject", subject)
	if subject != discoveryRequestSubject {
		return
	}

	var request struct {
		ID string `json:"id"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &request); err != nil {
			g.logger.Warn("Malformed discovery request", "error", err)
			return
		}
	}

	response, err := json.Marshal(DiscoveryResponse{
		RequestID: request.ID,
		ServiceID: g.cfg.ServiceID,
		Status:    g.State().String(),
	})
	if err != nil {
		g.logger.Error("Failed to encode discovery response", "error", err)
		return
	}
	if err := g.transport.Publish(ctx, discoveryResponseSubject, response); err != nil {
		g.logger.Warn("Failed to answer discovery request", "error", err)
	}
}
