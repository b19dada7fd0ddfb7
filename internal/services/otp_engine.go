package services

import (
	"context"
	"fmt"
	"time"

	"github.com/banamarket/auth-service/internal/config"
	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/utils"
)

// Clock supplies the current time to the lifecycle rules.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// OTPEngine issues and confirms SMS verification codes for every flow.
//
// Each call is one unit of work on the (flow, key) token: the token is read,
// the rules are applied, and the resulting write is persisted only when the
// whole call succeeds. Returned errors are the utils sentinels and are never
// logged here.
type OTPEngine interface {
	// RequestCode issues a new code for key and delivers it to phone.
	RequestCode(ctx context.Context, flow models.SMSFlow, key, phone string) error
	// ConfirmCode marks the token verified if code matches.
	ConfirmCode(ctx context.Context, flow models.SMSFlow, key, code string) error
	// ConfirmCodeThen is ConfirmCode with an action that runs after every
	// check passes and before the token is marked verified. If the action
	// fails the token is left untouched.
	ConfirmCodeThen(ctx context.Context, flow models.SMSFlow, key, code string, then func(ctx context.Context) error) error
	// Redeem runs fn if the token is verified and was confirmed within maxAge,
	// then deletes the token.
	Redeem(ctx context.Context, flow models.SMSFlow, key string, maxAge time.Duration, fn func(ctx context.Context) error) error
}

type otpEngine struct {
	repo        repositories.SMSTokenRepository
	sender      SMSSender
	clock       Clock
	codes       CodeGenerator
	org         string
	sendTimeout time.Duration
}

// NewOTPEngine builds the engine. A nil clock uses wall time and a nil
// generator uses GenerateCode.
func NewOTPEngine(
	repo repositories.SMSTokenRepository,
	sender SMSSender,
	cfg *config.Config,
	clock Clock,
	codes CodeGenerator,
) OTPEngine {
	if clock == nil {
		clock = systemClock{}
	}
	if codes == nil {
		codes = GenerateCode
	}
	return &otpEngine{
		repo:        repo,
		sender:      sender,
		clock:       clock,
		codes:       codes,
		org:         cfg.OrganizationName,
		sendTimeout: cfg.SMSSendTimeout,
	}
}

func (e *otpEngine) RequestCode(ctx context.Context, flow models.SMSFlow, key, phone string) error {
	if !flow.Valid() {
		return fmt.Errorf("unknown sms flow %q", flow)
	}
	return e.repo.WithToken(ctx, flow, key, func(tx repositories.SMSTokenTx) error {
		cur, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		attempts, err := nextAttemptCount(cur, LockoutFor(flow), now)
		if err != nil {
			return err
		}

		code, err := e.codes()
		if err != nil {
			return fmt.Errorf("generate verification code: %w", err)
		}

		// Deliver before staging the write so a failed send leaves no code behind.
		if err := sendWithTimeout(ctx, e.sender, e.sendTimeout, phone, codeMessage(e.org, flow, code)); err != nil {
			return fmt.Errorf("%w: %v", utils.ErrDeliveryFailed, err)
		}

		return tx.Upsert(ctx, &models.SMSVerificationToken{
			Flow:         flow,
			Key:          key,
			Code:         code,
			AttemptCount: attempts,
			Verified:     false,
			UpdatedAt:    now,
		})
	})
}

func (e *otpEngine) ConfirmCode(ctx context.Context, flow models.SMSFlow, key, code string) error {
	return e.ConfirmCodeThen(ctx, flow, key, code, nil)
}

func (e *otpEngine) ConfirmCodeThen(
	ctx context.Context,
	flow models.SMSFlow,
	key, code string,
	then func(ctx context.Context) error,
) error {
	if !ValidCodeFormat(code) {
		return utils.ErrInvalidFormat
	}
	if !flow.Valid() {
		return fmt.Errorf("unknown sms flow %q", flow)
	}
	return e.repo.WithToken(ctx, flow, key, func(tx repositories.SMSTokenTx) error {
		cur, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		if err := checkConfirm(cur, code, now); err != nil {
			return err
		}
		if then != nil {
			if err := then(tx.Context(ctx)); err != nil {
				return err
			}
		}
		cur.Verified = true
		cur.UpdatedAt = now
		return tx.Upsert(ctx, cur)
	})
}

func (e *otpEngine) Redeem(
	ctx context.Context,
	flow models.SMSFlow,
	key string,
	maxAge time.Duration,
	fn func(ctx context.Context) error,
) error {
	return e.repo.WithToken(ctx, flow, key, func(tx repositories.SMSTokenTx) error {
		cur, err := tx.Load(ctx)
		if err != nil {
			return err
		}
		if err := checkRedeemable(cur, maxAge, e.clock.Now()); err != nil {
			return err
		}
		if err := fn(tx.Context(ctx)); err != nil {
			return err
		}
		return tx.Delete(ctx)
	})
}
