package services

import (
	"regexp"
	"time"

	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/utils"
)

const (
	CodeLength = 6
	// CodeExpiry bounds how long after issue a code may be confirmed, and how
	// long after confirmation a signup may be completed.
	CodeExpiry = 5 * time.Minute
	// CodeRateLimitWindow is anchored to the token's UpdatedAt, not a sliding log.
	CodeRateLimitWindow = 24 * time.Hour
	MaxCodesPerWindow   = 5
	// VerifiedLockout blocks new codes for a recently verified find-* token.
	VerifiedLockout = 10 * time.Minute
)

var codeFormat = regexp.MustCompile(`^[0-9]{6}$`)

// ValidCodeFormat reports whether code is exactly six ASCII digits.
func ValidCodeFormat(code string) bool {
	return codeFormat.MatchString(code)
}

// LockoutFor returns the post-verification lockout of a flow.
func LockoutFor(flow models.SMSFlow) time.Duration {
	switch flow {
	case models.SMSFlowFindEmail, models.SMSFlowFindPassword:
		return VerifiedLockout
	}
	return 0
}

// nextAttemptCount decides whether a new code may be issued for tok at now and
// returns the attempt count to store with it.
func nextAttemptCount(tok *models.SMSVerificationToken, lockout time.Duration, now time.Time) (int, error) {
	if tok == nil {
		return 1, nil
	}
	elapsed := now.Sub(tok.UpdatedAt)
	switch {
	case lockout > 0 && tok.Verified && elapsed < lockout:
		return 0, utils.ErrAlreadyVerifiedRecently
	case tok.AttemptCount >= MaxCodesPerWindow && elapsed < CodeRateLimitWindow:
		return 0, utils.ErrRateLimited
	case elapsed >= CodeRateLimitWindow:
		return 1, nil
	}
	return tok.AttemptCount + 1, nil
}

// checkConfirm applies the confirmation rules in order. The code format is
// checked by the caller before the token is loaded.
func checkConfirm(tok *models.SMSVerificationToken, code string, now time.Time) error {
	switch {
	case tok == nil:
		return utils.ErrNotRequested
	case now.Sub(tok.UpdatedAt) > CodeExpiry:
		return utils.ErrExpired
	case tok.Verified:
		return utils.ErrAlreadyVerified
	case tok.Code != code:
		return utils.ErrMismatch
	}
	return nil
}

// checkRedeemable reports whether a verified token is still fresh enough to
// complete the flow it gates.
func checkRedeemable(tok *models.SMSVerificationToken, maxAge time.Duration, now time.Time) error {
	if tok == nil || !tok.Verified || now.Sub(tok.UpdatedAt) > maxAge {
		return utils.ErrPhoneNotVerified
	}
	return nil
}
