package main

import (
	"context"
	"fmt"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/rs/zerolog"

	"github.com/dmac/telehealth/internal/config"
	"github.com/dmac/telehealth/internal/platform/calendar"
	"github.com/dmac/telehealth/internal/platform/notification"
)

// newCalendar returns the Google Calendar client when a credentials file is
// configured, and a no-op calendar otherwise.
func newCalendar(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (calendar.Calendar, error) {
	if cfg.GoogleCredentialsFile == "" {
		logger.Info().Msg("calendar sync disabled")
		return calendar.Noop{}, nil
	}
	g, err := calendar.NewGoogle(ctx, cfg.GoogleCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("google calendar: %w", err)
	}
	return g, nil
}

func newEmailSender(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (notification.EmailSender, error) {
	from := notification.From{Email: cfg.EmailFrom, Name: cfg.EmailFromName}
	switch cfg.EmailProvider {
	case config.EmailSES:
		awsConf, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return notification.NewSESSender(sesv2.NewFromConfig(awsConf), from, logger), nil
	case config.EmailSendGrid:
		s, err := notification.NewSendGridSender(cfg.SendGridAPIKey, from, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.EmailLog, "":
		return notification.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
}
