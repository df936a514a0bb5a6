package messaging

import (
	"context"

	"github.com/thiagorragazzo/clinic-assistant/internal/conversation"
	"github.com/thiagorragazzo/clinic-assistant/internal/reminders"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// LogSender logs outbound messages instead of delivering them. Used when
// Twilio credentials are absent.
type LogSender struct {
	logger *logging.Logger
}

func NewLogSender(logger *logging.Logger) *LogSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSender{logger: logger}
}

var (
	_ conversation.ReplyMessenger = (*LogSender)(nil)
	_ reminders.Sender            = (*LogSender)(nil)
)

func (s *LogSender) SendReply(_ context.Context, msg conversation.OutboundReply) error {
	s.logger.Info("log sender: would send message", "to", msg.To, "chars", len([]rune(msg.Body)))
	return nil
}

func (s *LogSender) SendText(ctx context.Context, to, body string) error {
	return s.SendReply(ctx, conversation.OutboundReply{To: to, Body: body})
}
