package services

import (
	"context"

	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/utils"
)

// FindEmailService reveals the masked login email of the account that owns a
// verified phone number.
type FindEmailService interface {
	RequestCode(ctx context.Context, phone string) error
	ConfirmCode(ctx context.Context, phone, code string) (string, error)
}

type findEmailService struct {
	engine   OTPEngine
	userRepo repositories.UserRepository
}

func NewFindEmailService(engine OTPEngine, userRepo repositories.UserRepository) FindEmailService {
	return &findEmailService{engine: engine, userRepo: userRepo}
}

func (s *findEmailService) RequestCode(ctx context.Context, phone string) error {
	user, err := s.accountFor(ctx, phone)
	if err != nil {
		return err
	}
	if err := s.engine.RequestCode(ctx, models.SMSFlowFindEmail, user.GetID(), user.PhoneNumber); err != nil {
		return err
	}
	utils.Logger.WithField("user_id", user.ID).Info("Find-email verification code issued")
	return nil
}

func (s *findEmailService) ConfirmCode(ctx context.Context, phone, code string) (string, error) {
	if !ValidCodeFormat(code) {
		return "", utils.ErrInvalidFormat
	}
	user, err := s.accountFor(ctx, phone)
	if err != nil {
		return "", err
	}
	if err := s.engine.ConfirmCode(ctx, models.SMSFlowFindEmail, user.GetID(), code); err != nil {
		return "", err
	}
	return utils.MaskEmail(user.Email), nil
}

func (s *findEmailService) accountFor(ctx context.Context, phone string) (*models.User, error) {
	canonical, ok := utils.NormalizeMobile(phone)
	if !ok {
		return nil, utils.ErrInvalidFormat
	}
	user, err := s.userRepo.GetByPhoneNumber(ctx, canonical)
	if err != nil {
		return nil, err
	}
	return requirePasswordAccount(user)
}

func requirePasswordAccount(user *models.User) (*models.User, error) {
	if user == nil {
		return nil, utils.ErrNoSuchAccount
	}
	if user.IsSocial() {
		return nil, &utils.ThirdPartyAccountError{Provider: *user.SocialProvider}
	}
	return user, nil
}
