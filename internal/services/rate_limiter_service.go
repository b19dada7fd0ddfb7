package services

import (
	"context"
	"fmt"

	"github.com/banamarket/auth-service/internal/config"
	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/utils"
)

// RateLimiterService guards the public endpoints with coarse hourly counters,
// independent of the per-key limits of the lifecycle engine.
type RateLimiterService interface {
	// CheckSMSRateLimits checks the global and per-IP limits on code requests.
	CheckSMSRateLimits(ctx context.Context, ip string) error
	// CheckConfirmRateLimits checks the per-IP and per-phone limits on code
	// confirmations for flow. The token itself is never touched.
	CheckConfirmRateLimits(ctx context.Context, ip string, flow models.SMSFlow, phone string) error
}

type rateLimiterService struct {
	repo repositories.RateLimitRepository
	cfg  *config.Config
}

func NewRateLimiterService(repo repositories.RateLimitRepository, cfg *config.Config) RateLimiterService {
	return &rateLimiterService{repo: repo, cfg: cfg}
}

func (s *rateLimiterService) CheckSMSRateLimits(ctx context.Context, ip string) error {
	// 1. Global limit
	globalKey := "sms:global"
	allowed, err := s.repo.IncrementAndCheck(ctx, globalKey, s.cfg.GlobalSMSLimitPerHour, s.cfg.RateLimitWindow)
	if err != nil {
		return err
	}
	if !allowed {
		utils.Logger.Warnf("Global SMS rate limit exceeded (key: %s)", globalKey)
		return utils.ErrRateLimited
	}

	// 2. Per-IP limit
	ipKey := fmt.Sprintf("sms:ip:%s", ip)
	allowed, err = s.repo.IncrementAndCheck(ctx, ipKey, s.cfg.SMSLimitPerIPPerHour, s.cfg.RateLimitWindow)
	if err != nil {
		return err
	}
	if !allowed {
		utils.Logger.Warnf("Per-IP SMS rate limit exceeded (key: %s)", ipKey)
		return utils.ErrRateLimited
	}
	return nil
}

func (s *rateLimiterService) CheckConfirmRateLimits(ctx context.Context, ip string, flow models.SMSFlow, phone string) error {
	ipKey := fmt.Sprintf("confirm:ip:%s", ip)
	allowed, err := s.repo.IncrementAndCheck(ctx, ipKey, s.cfg.ConfirmLimitPerIPPerHour, s.cfg.RateLimitWindow)
	if err != nil {
		return err
	}
	if !allowed {
		utils.Logger.Warnf("Per-IP confirm rate limit exceeded (key: %s)", ipKey)
		return utils.ErrRateLimited
	}

	// Keyed on the phone so rotating addresses cannot reset the budget.
	if canonical, ok := utils.NormalizeMobile(phone); ok {
		phone = canonical
	}
	phoneKey := fmt.Sprintf("confirm:%s:%s", flow, phone)
	allowed, err = s.repo.IncrementAndCheck(ctx, phoneKey, s.cfg.ConfirmLimitPerKeyPerHour, s.cfg.RateLimitWindow)
	if err != nil {
		return err
	}
	if !allowed {
		utils.Logger.WithField("flow", flow).Warn("Per-phone confirm rate limit exceeded")
		return utils.ErrRateLimited
	}
	return nil
}
