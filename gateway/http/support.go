package http

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/jetdream/webhook-nats-gateway/errors"
	"github.com/jetdream/webhook-nats-gateway/gateway"
)

const (
	defaultAllowHeaders = "Content-Type, Authorization"
	preflightMaxAge     = "3600"
)

// getOrGenerateRequestID extracts request ID from headers or generates a new one
// for tracing a webhook across the gateway and its responders
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// mapErrorToHTTPStatus maps a forwarding failure to a status code. Only an
// expired reply wait is distinguished.
func mapErrorToHTTPStatus(err error) int {
	if errors.IsTimeout(err) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// sanitizeError returns a safe error message for external clients.
// Subjects and broker details stay in the logs.
func sanitizeError(err error) string {
	if errors.IsTimeout(err) {
		return "request timeout"
	}
	return "internal server error"
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}

func allowOrigin(origin string, d *gateway.EndpointDescriptor) string {
	if origin != "" {
		return origin
	}
	if slices.Contains(d.Origins(), "*") {
		return "*"
	}
	return ""
}

// applyCORS sets the headers of a real (non-preflight) response. The origin
// has already been checked against the descriptor.
func applyCORS(w http.ResponseWriter, origin string, d *gateway.EndpointDescriptor) {
	value := allowOrigin(origin, d)
	if value == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", value)
	if value != "*" {
		w.Header().Add("Vary", "Origin")
	}
}

func applyPreflight(w http.ResponseWriter, r *http.Request, d *gateway.EndpointDescriptor) {
	applyCORS(w, r.Header.Get("Origin"), d)

	w.Header().Set("Access-Control-Allow-Methods", allowedMethods(d))
	if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		w.Header().Set("Access-Control-Allow-Headers", requested)
	} else {
		w.Header().Set("Access-Control-Allow-Headers", defaultAllowHeaders)
	}
	w.Header().Set("Access-Control-Max-Age", preflightMaxAge)
}

func allowedMethods(d *gateway.EndpointDescriptor) string {
	methods := make([]string, 0, len(d.Methods)+1)
	for _, m := range d.Methods {
		m = strings.ToUpper(m)
		if !slices.Contains(methods, m) {
			methods = append(methods, m)
		}
	}
	if !slices.Contains(methods, http.MethodOptions) {
		methods = append(methods, http.MethodOptions)
	}
	return strings.Join(methods, ", ")
}

// encodeBody converts a request body into its envelope form: raw JSON for
// JSON media types, a field object for url-encoded forms, a string otherwise.
func encodeBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		if json.Valid(body) {
			return json.RawMessage(body)
		}
	case mediaType == "application/x-www-form-urlencoded":
		if values, err := url.ParseQuery(string(body)); err == nil {
			return formFields(values)
		}
	}
	return string(body)
}

// formFields keeps single values as strings and repeated keys as lists.
func formFields(values url.Values) map[string]any {
	fields := make(map[string]any, len(values))
	for key, vs := range values {
		if len(vs) == 1 {
			fields[key] = vs[0]
			continue
		}
		fields[key] = vs
	}
	return fields
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
