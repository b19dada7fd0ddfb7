package services

import (
	"context"
	"fmt"

	"github.com/banamarket/auth-service/internal/config"
	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/utils"
)

// FindPasswordService resets the password of an account identified by email
// and phone together, sending the new password by SMS.
type FindPasswordService interface {
	RequestCode(ctx context.Context, email, phone string) error
	ConfirmCode(ctx context.Context, email, phone, code string) error
}

type findPasswordService struct {
	engine   OTPEngine
	userRepo repositories.UserRepository
	sender   SMSSender
	mailer   NoticeMailer
	cfg      *config.Config
}

// NewFindPasswordService wires the flow. mailer may be nil.
func NewFindPasswordService(
	engine OTPEngine,
	userRepo repositories.UserRepository,
	sender SMSSender,
	mailer NoticeMailer,
	cfg *config.Config,
) FindPasswordService {
	return &findPasswordService{
		engine:   engine,
		userRepo: userRepo,
		sender:   sender,
		mailer:   mailer,
		cfg:      cfg,
	}
}

func (s *findPasswordService) RequestCode(ctx context.Context, email, phone string) error {
	user, err := s.accountFor(ctx, email, phone)
	if err != nil {
		return err
	}
	if err := s.engine.RequestCode(ctx, models.SMSFlowFindPassword, user.GetID(), user.PhoneNumber); err != nil {
		return err
	}
	utils.Logger.WithField("user_id", user.ID).Info("Find-password verification code issued")
	return nil
}

func (s *findPasswordService) ConfirmCode(ctx context.Context, email, phone, code string) error {
	if !ValidCodeFormat(code) {
		return utils.ErrInvalidFormat
	}
	user, err := s.accountFor(ctx, email, phone)
	if err != nil {
		return err
	}

	err = s.engine.ConfirmCodeThen(ctx, models.SMSFlowFindPassword, user.GetID(), code, func(ctx context.Context) error {
		return s.resetPassword(ctx, user)
	})
	if err != nil {
		return err
	}
	utils.Logger.WithField("user_id", user.ID).Info("Password reset by phone verification")

	if s.mailer != nil {
		if mErr := s.mailer.SendPasswordResetNotice(ctx, user.Email, user.Name); mErr != nil {
			utils.Logger.WithError(mErr).WithField("user_id", user.ID).Warn("Failed to send password reset notice")
		}
	}
	return nil
}

// resetPassword stores a new generated password and texts it to the account's
// phone. If the text cannot be delivered the previous hash is put back.
func (s *findPasswordService) resetPassword(ctx context.Context, user *models.User) error {
	password, err := GeneratePassword()
	if err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}

	var previous string
	err = s.userRepo.UpdateWithRetry(ctx, user.ID, func(u *models.User) error {
		previous = u.PasswordHash
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return err
	}

	sendErr := sendWithTimeout(ctx, s.sender, s.cfg.SMSSendTimeout, user.PhoneNumber, newPasswordMessage(s.cfg.OrganizationName, password))
	if sendErr == nil {
		return nil
	}

	restoreErr := s.userRepo.UpdateWithRetry(context.WithoutCancel(ctx), user.ID, func(u *models.User) error {
		u.PasswordHash = previous
		return nil
	})
	if restoreErr != nil {
		utils.Logger.WithError(restoreErr).WithField("user_id", user.ID).Error("Failed to restore password after SMS delivery failure")
	}
	return fmt.Errorf("%w: %v", utils.ErrDeliveryFailed, sendErr)
}

func (s *findPasswordService) accountFor(ctx context.Context, email, phone string) (*models.User, error) {
	normEmail, ok := utils.NormalizeEmail(email)
	if !ok {
		return nil, utils.ErrInvalidFormat
	}
	canonical, ok := utils.NormalizeMobile(phone)
	if !ok {
		return nil, utils.ErrInvalidFormat
	}
	user, err := s.userRepo.GetByEmailAndPhone(ctx, normEmail, canonical)
	if err != nil {
		return nil, err
	}
	return requirePasswordAccount(user)
}
