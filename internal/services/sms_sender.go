package services

import (
	"context"
	"fmt"

	twilio "github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/banamarket/auth-service/internal/utils"
)

// SMSSender delivers a text message to a canonical domestic phone number.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

type twilioSMSSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSMSSender(client *twilio.RestClient, from string) SMSSender {
	return &twilioSMSSender{client: client, from: from}
}

func (s *twilioSMSSender) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(utils.ToE164(to))
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		utils.Logger.WithError(err).Errorf("Failed to send SMS to %s via Twilio", utils.ToE164(to))
		return fmt.Errorf("failed to send sms via twilio: %w", err)
	}
	return nil
}

// logSMSSender writes messages to the log instead of delivering them. For
// local development only.
type logSMSSender struct{}

func NewLogSMSSender() SMSSender {
	return logSMSSender{}
}

func (logSMSSender) Send(_ context.Context, to, body string) error {
	utils.Logger.WithField("to", to).Infof("SMS (log only): %s", body)
	return nil
}
