package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	twilio "github.com/twilio/twilio-go"

	"github.com/banamarket/auth-service/internal/config"
	"github.com/banamarket/auth-service/internal/dtos"
	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/utils"
)

// SignupService verifies a phone number that is not yet registered and then
// creates the account for it.
type SignupService interface {
	RequestCode(ctx context.Context, phone string) error
	ConfirmCode(ctx context.Context, phone, code string) error
	CreateAccount(ctx context.Context, req dtos.CreateAccountRequest) (*models.User, error)
}

type signupService struct {
	engine       OTPEngine
	userRepo     repositories.UserRepository
	cfg          *config.Config
	twilioClient *twilio.RestClient
}

// NewSignupService wires the signup flow. twilioClient may be nil when
// phone lookups are disabled.
func NewSignupService(
	engine OTPEngine,
	userRepo repositories.UserRepository,
	cfg *config.Config,
	twilioClient *twilio.RestClient,
) SignupService {
	return &signupService{
		engine:       engine,
		userRepo:     userRepo,
		cfg:          cfg,
		twilioClient: twilioClient,
	}
}

func (s *signupService) RequestCode(ctx context.Context, phone string) error {
	canonical, ok := utils.NormalizeMobile(phone)
	if !ok {
		return utils.ErrInvalidFormat
	}
	ok, err := utils.ValidatePhoneNumber(ctx, canonical, s.cfg.LDFlag_ValidatePhoneWithTwilio, s.twilioClient)
	if err != nil {
		return err
	}
	if !ok {
		return utils.ErrInvalidFormat
	}

	existing, err := s.userRepo.GetByPhoneNumber(ctx, canonical)
	if err != nil {
		return err
	}
	if existing != nil {
		return utils.ErrAlreadyRegistered
	}

	if err := s.engine.RequestCode(ctx, models.SMSFlowSignup, canonical, canonical); err != nil {
		return err
	}
	utils.Logger.WithField("flow", models.SMSFlowSignup).Info("Signup verification code issued")
	return nil
}

func (s *signupService) ConfirmCode(ctx context.Context, phone, code string) error {
	if !ValidCodeFormat(code) {
		return utils.ErrInvalidFormat
	}
	canonical, ok := utils.NormalizeMobile(phone)
	if !ok {
		return utils.ErrInvalidFormat
	}
	return s.engine.ConfirmCode(ctx, models.SMSFlowSignup, canonical, code)
}

// CreateAccount registers a password account for a phone number confirmed in
// the last CodeExpiry. The signup token is consumed in the same unit of work.
func (s *signupService) CreateAccount(ctx context.Context, req dtos.CreateAccountRequest) (*models.User, error) {
	email, ok := utils.NormalizeEmail(req.Email)
	if !ok {
		return nil, fmt.Errorf("%w: email", utils.ErrInvalidFormat)
	}
	if !utils.IsValidAccountPassword(req.Password) {
		return nil, fmt.Errorf("%w: password", utils.ErrInvalidFormat)
	}
	if req.Password != req.ConfirmPassword {
		return nil, fmt.Errorf("%w: confirm_password", utils.ErrInvalidFormat)
	}
	if !utils.IsHangulName(req.Name) {
		return nil, fmt.Errorf("%w: name", utils.ErrInvalidFormat)
	}
	phone, ok := utils.NormalizeMobile(req.PhoneNumber)
	if !ok {
		return nil, fmt.Errorf("%w: phone_number", utils.ErrInvalidFormat)
	}

	if u, err := s.userRepo.GetByPhoneNumber(ctx, phone); err != nil {
		return nil, err
	} else if u != nil {
		return nil, utils.ErrAlreadyRegistered
	}
	if u, err := s.userRepo.GetByEmail(ctx, email); err != nil {
		return nil, err
	} else if u != nil {
		return nil, utils.ErrEmailExists
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         req.Name,
		PhoneNumber:  phone,
		PasswordHash: hash,
	}

	err = s.engine.Redeem(ctx, models.SMSFlowSignup, phone, CodeExpiry, func(ctx context.Context) error {
		return s.userRepo.Create(ctx, user)
	})
	if err != nil {
		return nil, err
	}

	utils.Logger.WithField("user_id", user.ID).Info("Account created")
	return user, nil
}
