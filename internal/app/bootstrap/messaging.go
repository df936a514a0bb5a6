package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/thiagorragazzo/clinic-assistant/internal/config"
	"github.com/thiagorragazzo/clinic-assistant/internal/conversation"
	"github.com/thiagorragazzo/clinic-assistant/internal/messaging"
	"github.com/thiagorragazzo/clinic-assistant/internal/notify"
	"github.com/thiagorragazzo/clinic-assistant/internal/reminders"
	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// OutboundMessenger is what both the conversation and reminder paths send
// through.
type OutboundMessenger interface {
	conversation.ReplyMessenger
	reminders.Sender
}

// BuildOutboundMessenger returns the Twilio sender, or a logging stub when
// credentials are missing.
func BuildOutboundMessenger(cfg *appconfig.Config, logger *logging.Logger) OutboundMessenger {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		logger.Warn("twilio credentials missing; outbound messages are only logged")
		return messaging.NewLogSender(logger)
	}
	return messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger)
}

// BuildEmailSender returns nil when e-mail confirmations are disabled.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, loadAWS AWSConfigLoader, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "":
		return nil, nil
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  firstNonEmpty(cfg.SendGridFromName, cfg.ClinicName),
		}, logger)
		if sender == nil {
			return nil, fmt.Errorf("bootstrap: EMAIL_PROVIDER=sendgrid requires SENDGRID_API_KEY")
		}
		return sender, nil
	case "ses":
		if cfg.SESFromEmail == "" {
			return nil, fmt.Errorf("bootstrap: EMAIL_PROVIDER=ses requires SES_FROM_EMAIL")
		}
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.ClinicName,
		}, logger), nil
	case "log":
		return notify.NewStubEmailSender(logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown email provider %q", cfg.EmailProvider)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// BuildQueue returns the in-memory queue for single-process deployments or
// the SQS queue named by CONVERSATION_QUEUE_URL.
func BuildQueue(ctx context.Context, cfg *appconfig.Config, loadAWS AWSConfigLoader, logger *logging.Logger) (conversation.Queue, error) {
	if cfg.UseMemoryQueue {
		logger.Info("using in-memory conversation queue")
		return conversation.NewMemoryQueue(0), nil
	}
	if cfg.ConversationQueueURL == "" {
		return nil, fmt.Errorf("bootstrap: CONVERSATION_QUEUE_URL is required when USE_MEMORY_QUEUE=false")
	}
	awsCfg, err := loadAWS(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	logger.Info("using sqs conversation queue", "url", cfg.ConversationQueueURL)
	return conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ConversationQueueURL), nil
}
