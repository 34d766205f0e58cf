package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/clinic-booking-agent/internal/config"
	"github.com/wolfman30/clinic-booking-agent/internal/notify"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// BuildGateway picks the email and SMS senders from config. SendGrid wins over SES;
// unconfigured channels log instead of sending outside production and stay
// unconfigured in production, so dispatch fails loudly there.
func BuildGateway(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var email notify.EmailSender
	switch {
	case strings.TrimSpace(cfg.SendGridAPIKey) != "":
		email = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		logger.Info("email provider selected", "provider", "sendgrid")
	case strings.TrimSpace(cfg.SESFromEmail) != "":
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		email = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		logger.Info("email provider selected", "provider", "ses")
	case cfg.IsDevelopment():
		email = notify.NewStubEmailSender(logger)
		logger.Warn("no email provider configured; emails are logged only")
	default:
		logger.Warn("no email provider configured")
	}

	var sms notify.SMSSender
	if twilio := notify.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger); twilio != nil {
		sms = twilio
		logger.Info("sms provider selected", "provider", "twilio")
	} else if cfg.IsDevelopment() {
		sms = notify.NewStubSMSSender(logger)
		logger.Warn("no sms provider configured; texts are logged only")
	} else {
		logger.Warn("no sms provider configured")
	}
	return notify.NewRouter(email, sms, logger), nil
}
