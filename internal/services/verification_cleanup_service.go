package services

import (
	"context"

	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/utils"
)

// VerificationCleanupService purges SMS tokens that can no longer affect any
// decision: once the resend window has passed a token behaves as if absent.
type VerificationCleanupService interface {
	CleanupDaily(ctx context.Context) error
}

type verificationCleanupService struct {
	tokenRepo repositories.SMSTokenRepository
	clock     Clock
}

// NewVerificationCleanupService constructs the cleanup job. A nil clock uses wall time.
func NewVerificationCleanupService(tokenRepo repositories.SMSTokenRepository, clock Clock) VerificationCleanupService {
	if clock == nil {
		clock = systemClock{}
	}
	return &verificationCleanupService{tokenRepo: tokenRepo, clock: clock}
}

// CleanupDaily deletes stale tokens and logs any errors encountered.
func (s *verificationCleanupService) CleanupDaily(ctx context.Context) error {
	logger := utils.Logger

	cutoff := s.clock.Now().Add(-CodeRateLimitWindow)
	n, err := s.tokenRepo.CleanupStale(ctx, cutoff)
	if err != nil {
		logger.WithError(err).Error("Failed to cleanup sms_verification_tokens")
		return err
	}

	logger.WithField("removed", n).Info("Daily verification-token cleanup completed successfully.")
	return nil
}
