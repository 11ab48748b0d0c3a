package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/softaidev/assistant-ledger/internal/config"
	"github.com/softaidev/assistant-ledger/internal/notify"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

// NeedsAWS reports whether the configuration uses an AWS service, so callers
// only load AWS credentials when something will use them.
func NeedsAWS(cfg *appconfig.Config) bool {
	return cfg.EmailProvider == "ses" || strings.TrimSpace(cfg.DownloadBucket) != ""
}

// BuildEmailSender selects the email transport. With EMAIL_PROVIDER=auto the
// first configured API key wins (Resend, then SendGrid) and the stub is used
// when none is set. awsCfg is only read for the ses provider.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.EmailProvider {
	case "resend":
		if s := notify.NewResendSender(resendConfig(cfg), logger); s != nil {
			return s, "resend", nil
		}
		return nil, "", fmt.Errorf("bootstrap: RESEND_API_KEY is required for the resend provider")
	case "sendgrid":
		if s := notify.NewSendGridSender(sendGridConfig(cfg), logger); s != nil {
			return s, "sendgrid", nil
		}
		return nil, "", fmt.Errorf("bootstrap: SENDGRID_API_KEY is required for the sendgrid provider")
	case "ses":
		if awsCfg == nil {
			return nil, "", fmt.Errorf("bootstrap: aws config is required for the ses provider")
		}
		s := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
		return s, "ses", nil
	case "stub":
		return notify.NewStubEmailSender(logger), "stub", nil
	case "", "auto":
		if s := notify.NewResendSender(resendConfig(cfg), logger); s != nil {
			return s, "resend", nil
		}
		if s := notify.NewSendGridSender(sendGridConfig(cfg), logger); s != nil {
			return s, "sendgrid", nil
		}
		logger.Warn("no email provider configured; emails are logged, not sent")
		return notify.NewStubEmailSender(logger), "stub", nil
	default:
		return nil, "", fmt.Errorf("bootstrap: unknown email provider %q", cfg.EmailProvider)
	}
}

func resendConfig(cfg *appconfig.Config) notify.ResendConfig {
	return notify.ResendConfig{APIKey: cfg.ResendAPIKey, FromEmail: cfg.EmailFromAddress, FromName: cfg.EmailFromName}
}

func sendGridConfig(cfg *appconfig.Config) notify.SendGridConfig {
	return notify.SendGridConfig{APIKey: cfg.SendGridAPIKey, FromEmail: cfg.EmailFromAddress, FromName: cfg.EmailFromName}
}
