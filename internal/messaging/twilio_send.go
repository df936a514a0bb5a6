package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/thiagorragazzo/clinic-assistant/internal/conversation"
	"github.com/thiagorragazzo/clinic-assistant/internal/reminders"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

var tracer = otel.Tracer("clinic-assistant.messaging")

const (
	defaultTwilioBaseURL = "https://api.twilio.com"
	sendAttempts         = 3
)

// TwilioSender posts WhatsApp and SMS messages using Twilio's REST API.
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
	logger     *logging.Logger
}

// NewTwilioSender builds a sender. defaultFrom is used when a reply has no
// From; a WhatsApp recipient gets a whatsapp: prefixed sender.
func NewTwilioSender(accountSID, authToken, defaultFrom string, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       defaultFrom,
		baseURL:    defaultTwilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		backoff: func(int) time.Duration {
			return time.Duration(200+rand.Intn(300)) * time.Millisecond
		},
		logger: logger,
	}
}

var (
	_ conversation.ReplyMessenger = (*TwilioSender)(nil)
	_ reminders.Sender            = (*TwilioSender)(nil)
)

// SendText sends body to the patient from the default clinic address.
func (s *TwilioSender) SendText(ctx context.Context, to, body string) error {
	return s.SendReply(ctx, conversation.OutboundReply{To: to, Body: body})
}

// SendReply dispatches a single message, retrying transient failures.
func (s *TwilioSender) SendReply(ctx context.Context, msg conversation.OutboundReply) error {
	if s.accountSID == "" || s.authToken == "" {
		return errors.New("messaging: twilio credentials missing")
	}
	to := NormalizeContact(msg.To)
	if to == "" {
		return errors.New("messaging: to required")
	}
	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = s.from
	}
	from = NormalizeContact(from)
	if from == "" {
		return errors.New("messaging: from required")
	}
	if IsWhatsApp(to) && !IsWhatsApp(from) {
		from = whatsappPrefix + from
	}
	if strings.TrimSpace(msg.Body) == "" {
		return errors.New("messaging: body required")
	}

	ctx, span := tracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.Bool("clinic.whatsapp", IsWhatsApp(to)))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", from)
	payload.Set("Body", msg.Body)
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, s.accountSID)

	var lastErr error
	for attempt := 1; ; attempt++ {
		retry, err := s.post(ctx, endpoint, payload)
		if err == nil {
			s.logger.Info("twilio message sent", "to", to, "attempt", attempt)
			return nil
		}
		lastErr = err
		if !retry || attempt == sendAttempts {
			break
		}
		if err := sleepContext(ctx, s.backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	span.RecordError(lastErr)
	return fmt.Errorf("messaging: twilio send: %w", lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// post returns whether a failure is worth retrying.
func (s *TwilioSender) post(ctx context.Context, endpoint string, payload url.Values) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return false, err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	err = errors.New(formatTwilioError(resp.StatusCode, body))
	// 4xx other than rate limiting will not succeed on retry.
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500, err
}

type twilioAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, trimmed)
}
