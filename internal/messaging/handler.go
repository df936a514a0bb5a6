package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/thiagorragazzo/clinic-assistant/internal/conversation"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Inbound webhook statuses reported to the observer.
const (
	InboundAccepted     = "accepted"
	InboundIgnored      = "ignored"
	InboundUnauthorized = "unauthorized"
	InboundInvalid      = "invalid"
	InboundFailed       = "failed"
)

type conversationPublisher interface {
	Enqueue(ctx context.Context, msg conversation.InboundMessage) (string, error)
}

// InboundObserver receives one call per webhook request.
type InboundObserver interface {
	ObserveInbound(status string)
	ObserveWebhookLatency(d time.Duration)
}

// Handler handles messaging webhook requests.
type Handler struct {
	webhookSecret string
	publicBaseURL string
	publisher     conversationPublisher
	observer      InboundObserver
	now           func() time.Time
	logger        *logging.Logger
}

type HandlerOption func(*Handler)

// WithPublicBaseURL sets the externally visible base URL used to verify
// signatures when the service runs behind a proxy.
func WithPublicBaseURL(base string) HandlerOption {
	return func(h *Handler) { h.publicBaseURL = strings.TrimRight(base, "/") }
}

func WithInboundObserver(o InboundObserver) HandlerOption {
	return func(h *Handler) { h.observer = o }
}

// NewHandler creates a webhook handler. An empty webhookSecret disables
// signature verification.
func NewHandler(webhookSecret string, publisher conversationPublisher, logger *logging.Logger, opts ...HandlerOption) *Handler {
	if publisher == nil {
		panic("messaging: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{
		webhookSecret: webhookSecret,
		publisher:     publisher,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TwilioWebhook handles POST /webhooks/twilio. The message is queued and
// Twilio gets an empty TwiML answer right away; the reply is sent later by
// the conversation worker.
func (h *Handler) TwilioWebhook(w http.ResponseWriter, r *http.Request) {
	started := h.now()
	ctx, span := tracer.Start(r.Context(), "messaging.twilio.webhook")
	defer span.End()

	status := h.accept(ctx, w, r)
	span.SetAttributes(attribute.String("clinic.inbound_status", status))
	if h.observer != nil {
		h.observer.ObserveInbound(status)
		h.observer.ObserveWebhookLatency(h.now().Sub(started))
	}
}

func (h *Handler) accept(ctx context.Context, w http.ResponseWriter, r *http.Request) string {
	if h.webhookSecret != "" && !ValidateTwilioSignature(r, h.webhookSecret, h.webhookURL(r)) {
		h.logger.Warn("invalid twilio signature")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return InboundUnauthorized
	}

	webhook, err := ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Error("failed to parse twilio webhook", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return InboundInvalid
	}
	from := NormalizeContact(webhook.From)
	if webhook.MessageSid == "" || from == "" {
		h.logger.Error("invalid twilio payload", "error", errors.New("missing MessageSid or From"))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return InboundInvalid
	}
	if webhook.Body == "" {
		// Media-only messages carry no text to interpret.
		h.logger.Info("ignoring message without text", "message_sid", webhook.MessageSid, "num_media", webhook.NumMedia)
		writeTwiML(w)
		return InboundIgnored
	}

	msg := conversation.InboundMessage{
		MessageID:      webhook.MessageSid,
		ContactAddress: from,
		To:             NormalizeContact(webhook.To),
		Text:           webhook.Body,
		ReceivedAt:     h.now().UTC(),
	}
	publishCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := h.publisher.Enqueue(publishCtx, msg); err != nil {
		h.logger.Error("failed to enqueue conversation job", "error", err, "message_sid", webhook.MessageSid)
		http.Error(w, "Failed to schedule reply", http.StatusInternalServerError)
		return InboundFailed
	}

	h.logger.Info("twilio webhook accepted", "message_sid", webhook.MessageSid, "contact", from)
	writeTwiML(w)
	return InboundAccepted
}

func writeTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func (h *Handler) webhookURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL + r.URL.RequestURI()
	}
	return buildAbsoluteURL(r)
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
