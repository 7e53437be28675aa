package notification

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// From is the sender identity shared by the providers.
type From struct {
	Email string
	Name  string
}

func (f From) withDefaults() From {
	if f.Name == "" {
		f.Name = "Telehealth"
	}
	return f
}

// SESAPI is the part of the sesv2 client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, opts ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends emails via AWS SES.
type SESSender struct {
	client SESAPI
	from   From
	logger zerolog.Logger
}

func NewSESSender(client SESAPI, from From, logger zerolog.Logger) *SESSender {
	return &SESSender{client: client, from: from.withDefaults(), logger: logger}
}

func (s *SESSender) SendEmail(ctx context.Context, to, subject, body string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.from.Name, s.from.Email)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("notification: SES send failed: %w", err)
	}
	s.logger.Debug().Str("to", to).Str("message_id", aws.ToString(out.MessageId)).Msg("email sent via SES")
	return nil
}

// SendGridSender sends emails via the SendGrid API.
type SendGridSender struct {
	client *sendgrid.Client
	from   From
	logger zerolog.Logger
}

func NewSendGridSender(apiKey string, from From, logger zerolog.Logger) (*SendGridSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("notification: sendgrid api key is required")
	}
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey), from: from.withDefaults(), logger: logger}, nil
}

func (s *SendGridSender) SendEmail(ctx context.Context, to, subject, body string) error {
	message := mail.NewSingleEmail(
		mail.NewEmail(s.from.Name, s.from.Email), subject,
		mail.NewEmail("", to), body, body)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notification: sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Debug().Str("to", to).Int("status", resp.StatusCode).Msg("email sent via sendgrid")
	return nil
}

// LogSender only logs; used in development and when email is disabled.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.logger.Info().Str("to", to).Str("subject", subject).Msg("email not sent (log provider)")
	return nil
}
