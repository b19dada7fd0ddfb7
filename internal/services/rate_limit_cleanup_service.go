package services

import (
	"context"

	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/utils"
)

// RateLimitCleanupService drops abuse-guard counters whose window has closed.
// IncrementAndCheck already restarts an expired counter, so this only keeps
// the table small.
type RateLimitCleanupService interface {
	CleanupDaily(ctx context.Context) error
}

type rateLimitCleanupService struct {
	repo repositories.RateLimitRepository
}

func NewRateLimitCleanupService(repo repositories.RateLimitRepository) RateLimitCleanupService {
	return &rateLimitCleanupService{repo: repo}
}

func (s *rateLimitCleanupService) CleanupDaily(ctx context.Context) error {
	removed, err := s.repo.CleanupExpired(ctx)
	if err != nil {
		utils.Logger.WithError(err).Error("Rate limit counter cleanup failed")
		return err
	}
	utils.Logger.WithField("removed", removed).Info("Rate limit counter cleanup finished")
	return nil
}
