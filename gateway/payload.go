package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jetdream/webhook-nats-gateway/errors"
)

// WebhookRequest is the envelope payload published for every forwarded
// webhook, event or request alike.
type WebhookRequest struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Body        any               `json:"body"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Reply is the payload a responder publishes on the response subject.
type Reply struct {
	Status      int               `json:"status,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Reply body defaults by shape.
const (
	TextContentType = "text/plain; charset=utf-8"
	JSONContentType = "application/json"
)

// Render returns the HTTP status, content type and bytes the reply stands
// for. A string body is sent verbatim, an object or array as JSON, and an
// absent or null body as nothing. Any other body shape cannot be rendered.
func (r *Reply) Render() (int, string, []byte, error) {
	status := r.Status
	if status == 0 {
		status = 200
	}
	if status < 100 || status > 599 {
		return 0, "", nil, errors.WrapInvalid(errors.ErrInvalidData, "Reply", "Render",
			fmt.Sprintf("use reply status %d", r.Status))
	}

	body := bytes.TrimSpace(r.Body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return status, r.ContentType, nil, nil
	}

	switch body[0] {
	case '"':
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return 0, "", nil, errors.WrapInvalid(err, "Reply", "Render", "decode string body")
		}
		return status, withDefault(r.ContentType, TextContentType), []byte(text), nil
	case '{', '[':
		return status, withDefault(r.ContentType, JSONContentType), body, nil
	default:
		return 0, "", nil, errors.WrapInvalid(errors.ErrInvalidData, "Reply", "Render",
			"render scalar body")
	}
}

func withDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
