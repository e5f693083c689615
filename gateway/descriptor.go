package gateway

import (
	"slices"
	"strings"
	"time"
)

// EndpointType selects how a webhook is forwarded to the bus.
type EndpointType string

const (
	// EndpointEvent publishes the request and answers immediately.
	EndpointEvent EndpointType = "event"
	// EndpointRequest publishes the request and answers with the correlated reply.
	EndpointRequest EndpointType = "request"
)

// DefaultReplyTimeout applies to request endpoints without a timeout.
const DefaultReplyTimeout = 30 * time.Second

// EndpointDescriptor is the stored routing record of one webhook path.
type EndpointDescriptor struct {
	Type           EndpointType `json:"type"`
	Entity         string       `json:"entity"`
	AllowedOrigins []string     `json:"allowedOrigins,omitempty"`
	// Timeout is the reply wait in milliseconds.
	Timeout int `json:"timeout,omitempty"`
	// MaxSize is the body limit in bytes. Zero means the gateway default.
	MaxSize int64    `json:"maxSize,omitempty"`
	Methods []string `json:"methods"`
}

// ReplyTimeout returns the configured reply wait, or DefaultReplyTimeout.
func (d *EndpointDescriptor) ReplyTimeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultReplyTimeout
	}
	return time.Duration(d.Timeout) * time.Millisecond
}

// Origins returns the allowed origins, defaulting to any.
func (d *EndpointDescriptor) Origins() []string {
	if len(d.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return d.AllowedOrigins
}

// AllowsOrigin reports whether a request from origin may proceed. Requests
// without an Origin header are always allowed.
func (d *EndpointDescriptor) AllowsOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	origins := d.Origins()
	return slices.Contains(origins, "*") || slices.Contains(origins, origin)
}

// AllowsMethod compares case-insensitively.
func (d *EndpointDescriptor) AllowsMethod(method string) bool {
	for _, m := range d.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// BodyLimit returns MaxSize when set, otherwise fallback.
func (d *EndpointDescriptor) BodyLimit(fallback int64) int64 {
	if d.MaxSize > 0 {
		return d.MaxSize
	}
	return fallback
}

// NormalizeKey turns a request path into a descriptor key: outer separators
// trimmed, repeated separators collapsed, separators replaced with dots.
//
//	"/orders//new/" -> "orders.new"
func NormalizeKey(path string) string {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	return strings.Join(parts, ".")
}

// Subjects derives bus subjects for one service.
type Subjects struct {
	ServiceID string
}

// Event is where webhook events for entity are published.
func (s Subjects) Event(entity string) string {
	return s.ServiceID + ".event." + entity + ".received"
}

// Request is where correlated webhook requests for entity are published.
func (s Subjects) Request(entity string) string {
	return s.ServiceID + ".request." + entity + ".received"
}

// Response is the reply subject of one correlated request.
func (s Subjects) Response(entity, requestID string) string {
	return s.ServiceID + ".response." + entity + ".send." + requestID
}
