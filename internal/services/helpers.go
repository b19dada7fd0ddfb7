package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/banamarket/auth-service/internal/config"
	"github.com/banamarket/auth-service/internal/models"
)

// CodeGenerator returns a fresh numeric verification code.
type CodeGenerator func() (string, error)

// GenerateCode draws a uniformly random 6-digit code from crypto/rand.
func GenerateCode() (string, error) {
	return generateVerificationCode(CodeLength)
}

// Helper function for generating numeric codes
func generateVerificationCode(length int) (string, error) {
	const digits = "0123456789"
	code := make([]byte, length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		code[i] = digits[num.Int64()]
	}
	return string(code), nil
}

func codeMessage(org string, flow models.SMSFlow, code string) string {
	if flow == models.SMSFlowSignup {
		return fmt.Sprintf("[%s] Your verification code is [%s].", org, code)
	}
	return fmt.Sprintf("[%s] Your account recovery code is [%s].", org, code)
}

func newPasswordMessage(org, password string) string {
	return fmt.Sprintf("[%s] Your new password is %s. Please change it after signing in.", org, password)
}

// sendWithTimeout bounds a delivery attempt. Senders whose client ignores
// ctx are abandoned once the timeout fires.
func sendWithTimeout(ctx context.Context, sender SMSSender, timeout time.Duration, to, body string) error {
	if timeout <= 0 {
		timeout = config.DefaultSMSSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sender.Send(ctx, to, body) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
