// Package http serves the webhook surface: every request under the webhook
// prefix is routed by the endpoint descriptor stored for its path.
package http

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/gateway"
	"github.com/jetdream/webhook-nats-gateway/message"
	"github.com/jetdream/webhook-nats-gateway/metric"
	"github.com/jetdream/webhook-nats-gateway/reply"
)

// DefaultMaxRequestSize applies when neither the descriptor nor the config
// sets a body limit.
const DefaultMaxRequestSize int64 = 1 << 20

// Awaiter opens a pending reply. *reply.Correlator implements it.
type Awaiter interface {
	Await(ctx context.Context, subject string, timeout time.Duration) (*reply.Pending, error)
}

// Config holds the router settings.
type Config struct {
	// ServiceID prefixes every published subject.
	ServiceID string
	// Prefix is the mount path of the webhook surface, e.g. "/webhook".
	Prefix string
	// MaxRequestSize is the body limit for descriptors without maxSize.
	MaxRequestSize int64
}

// Router forwards webhooks to the bus according to their descriptors.
type Router struct {
	config    Config
	subjects  gateway.Subjects
	store     gateway.DescriptorStore
	publisher message.Publisher
	replies   Awaiter
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics records per-request metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(rt *Router) {
		rt.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// NewRouter creates a router. It publishes through publisher and waits for
// replies through replies.
func NewRouter(cfg Config, store gateway.DescriptorStore, publisher message.Publisher,
	replies Awaiter, opts ...Option,
) (*Router, error) {
	if cfg.ServiceID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Router", "NewRouter", "service id is required")
	}
	if store == nil || publisher == nil || replies == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Router", "NewRouter",
			"descriptor store, publisher and reply awaiter are required")
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}
	cfg.Prefix = "/" + strings.Trim(cfg.Prefix, "/")

	rt := &Router{
		config:    cfg,
		subjects:  gateway.Subjects{ServiceID: cfg.ServiceID},
		store:     store,
		publisher: publisher,
		replies:   replies,
		logger:    slog.Default().With("component", "webhook-router"),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

// Pattern is the chi route pattern covering the webhook prefix.
func (rt *Router) Pattern() string {
	if rt.config.Prefix == "/" {
		return "/*"
	}
	return rt.config.Prefix + "/*"
}

// Mount registers the router on r under its prefix.
func (rt *Router) Mount(r chi.Router) {
	r.Handle(rt.Pattern(), rt)
}

// ServeHTTP applies the descriptor of the request path.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := getOrGenerateRequestID(r)
	w.Header().Set("X-Request-ID", requestID)

	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	endpointType := "unknown"
	defer func() {
		if rt.metrics != nil {
			rt.metrics.RecordHTTPRequest(rt.config.ServiceID, endpointType, strconv.Itoa(ww.Status()))
		}
	}()

	logger := rt.logger.With("request_id", requestID, "path", r.URL.Path)
	key := gateway.NormalizeKey(strings.TrimPrefix(r.URL.Path, rt.config.Prefix))

	descriptor, err := rt.store.Get(r.Context(), key)
	if err != nil {
		if stderrors.Is(err, gateway.ErrDescriptorNotFound) {
			writeError(ww, http.StatusNotFound, "endpoint not found")
			return
		}
		logger.Error("Failed to load endpoint descriptor", "key", key, "error", err)
		writeError(ww, http.StatusInternalServerError, "internal server error")
		return
	}
	endpointType = string(descriptor.Type)

	origin := r.Header.Get("Origin")
	if !descriptor.AllowsOrigin(origin) {
		writeError(ww, http.StatusForbidden, "origin not allowed")
		return
	}

	if r.Method == http.MethodOptions {
		applyPreflight(ww, r, descriptor)
		ww.WriteHeader(http.StatusNoContent)
		return
	}
	applyCORS(ww, origin, descriptor)

	if !descriptor.AllowsMethod(r.Method) {
		ww.Header().Set("Allow", allowedMethods(descriptor))
		writeError(ww, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
		return
	}

	body, ok := readBody(ww, r, descriptor.BodyLimit(rt.config.MaxRequestSize))
	if !ok {
		return
	}

	request := gateway.WebhookRequest{
		URL:         r.URL.RequestURI(),
		Method:      r.Method,
		Body:        encodeBody(r.Header.Get("Content-Type"), body),
		ContentType: r.Header.Get("Content-Type"),
		Headers:     flattenHeaders(r.Header),
	}

	switch descriptor.Type {
	case gateway.EndpointEvent:
		rt.forwardEvent(ww, r, logger, descriptor, request)
	case gateway.EndpointRequest:
		rt.forwardRequest(ww, r, logger, descriptor, request)
	default:
		logger.Error("Unknown endpoint type", "key", key, "type", descriptor.Type)
		writeError(ww, http.StatusInternalServerError, "internal server error")
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	defer r.Body.Close()

	// one byte over the limit tells an oversized body from an exact fit
	if limit >= math.MaxInt64 {
		limit = math.MaxInt64 - 1
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge,
			"request body exceeds maximum size of "+strconv.FormatInt(limit, 10)+" bytes")
		return nil, false
	}
	return body, true
}

func (rt *Router) forwardEvent(w http.ResponseWriter, r *http.Request, logger *slog.Logger,
	d *gateway.EndpointDescriptor, request gateway.WebhookRequest,
) {
	subject := rt.subjects.Event(d.Entity)
	if err := rt.publisher.Publish(r.Context(), subject, request); err != nil {
		logger.Error("Failed to publish webhook event", "subject", subject, "error", err)
		writeError(w, http.StatusInternalServerError, sanitizeError(err))
		return
	}
	logger.Debug("Webhook event published", "subject", subject)
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) forwardRequest(w http.ResponseWriter, r *http.Request, logger *slog.Logger,
	d *gateway.EndpointDescriptor, request gateway.WebhookRequest,
) {
	id := uuid.NewString()
	requestSubject := rt.subjects.Request(d.Entity)
	responseSubject := rt.subjects.Response(d.Entity, id)

	// the listener must exist before the request can be answered
	pending, err := rt.replies.Await(r.Context(), responseSubject, d.ReplyTimeout())
	if err != nil {
		logger.Error("Failed to open reply listener", "subject", responseSubject, "error", err)
		writeError(w, http.StatusInternalServerError, sanitizeError(err))
		return
	}

	if err := rt.publisher.Publish(r.Context(), requestSubject, request, message.WithRequestID(id)); err != nil {
		pending.Cancel()
		logger.Error("Failed to publish webhook request", "subject", requestSubject, "error", err)
		writeError(w, http.StatusInternalServerError, sanitizeError(err))
		return
	}

	start := time.Now()
	env, err := pending.Wait(r.Context())
	rt.recordReplyWait(err, time.Since(start))
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status == http.StatusGatewayTimeout {
			logger.Warn("No reply before timeout", "subject", responseSubject, "timeout", d.ReplyTimeout())
		} else {
			logger.Error("Failed to receive reply", "subject", responseSubject, "error", err)
		}
		writeError(w, status, sanitizeError(err))
		return
	}

	writeReply(w, logger, env)
}

func (rt *Router) recordReplyWait(err error, d time.Duration) {
	if rt.metrics == nil {
		return
	}
	outcome := "replied"
	switch {
	case err == nil:
	case errors.IsTimeout(err):
		outcome = "timeout"
	default:
		outcome = "failed"
	}
	rt.metrics.RecordReplyWait(rt.config.ServiceID, outcome, d)
}

func writeReply(w http.ResponseWriter, logger *slog.Logger, env *message.Envelope) {
	var rep gateway.Reply
	if env.HasPayload() {
		if err := env.UnmarshalPayload(&rep); err != nil {
			logger.Error("Reply payload is not a reply object", "reply_id", env.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
	}

	status, contentType, body, err := rep.Render()
	if err != nil {
		logger.Error("Failed to build response from reply", "reply_id", env.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	for name, value := range rep.Headers {
		w.Header().Set(name, value)
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			logger.Debug("Failed to write reply body", "error", err)
		}
	}
}
