package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/banamarket/auth-service/internal/config"
	"github.com/banamarket/auth-service/internal/utils"
)

// NoticeMailer sends account security notices by email.
type NoticeMailer interface {
	SendPasswordResetNotice(ctx context.Context, toEmail, toName string) error
}

type sendgridNoticeMailer struct {
	client *sendgrid.Client
	cfg    *config.Config
}

// NewNoticeMailer returns nil when SendGrid is not configured.
func NewNoticeMailer(cfg *config.Config) NoticeMailer {
	if cfg.SendGridAPIKey == "" || cfg.SendGridFromEmail == "" {
		return nil
	}
	return &sendgridNoticeMailer{
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
		cfg:    cfg,
	}
}

func (m *sendgridNoticeMailer) SendPasswordResetNotice(ctx context.Context, toEmail, toName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := mail.NewEmail(m.cfg.OrganizationName, m.cfg.SendGridFromEmail)
	to := mail.NewEmail(toName, toEmail)
	subject := m.cfg.OrganizationName + " - Your password was reset"
	plainTextContent := "Your password was reset and the new password was sent to the phone number on your account. " +
		"If you did not request this, contact support immediately."
	htmlContent := fmt.Sprintf(passwordResetNoticeHTML, m.cfg.OrganizationName, m.cfg.OrganizationName, time.Now().Year(), m.cfg.OrganizationName)
	message := mail.NewSingleEmail(from, subject, to, plainTextContent, htmlContent)

	resp, err := m.client.Send(message)
	if err != nil {
		return fmt.Errorf("%w: failed to send email via sendgrid: %v", utils.ErrExternalServiceFailure, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: sendgrid status %d", utils.ErrExternalServiceFailure, resp.StatusCode)
	}
	return nil
}

const passwordResetNoticeHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Password Reset</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif; line-height: 1.6; color: #333; background-color: #f8f9fa; margin: 0; padding: 20px; }
  .container { max-width: 500px; margin: auto; background: #ffffff; border: 1px solid #e9ecef; border-radius: 8px; overflow: hidden; }
  .header { background-color: #f2b705; color: #222; padding: 20px; text-align: center; }
  .header h1 { margin: 0; font-size: 22px; }
  .content { padding: 30px; }
  .footer { background-color: #f8f9fa; padding: 20px; text-align: center; font-size: 12px; color: #6c757d; }
</style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>%s Password Reset</h1>
    </div>
    <div class="content">
      <p>Your password was reset using phone verification. The new password was sent by text message to the phone number on your account.</p>
      <p>Please sign in and change it. If you did not request this, contact %s support immediately.</p>
    </div>
    <div class="footer">
      © %d %s. All rights reserved.
    </div>
  </div>
</body>
</html>`
