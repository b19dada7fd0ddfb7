package controllers

import (
	"net/http"

	"github.com/banamarket/auth-service/internal/dtos"
	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/services"
	"github.com/banamarket/auth-service/internal/utils"
)

type SignupController struct {
	signupService services.SignupService
	rateLimiter   services.RateLimiterService
}

func NewSignupController(signup services.SignupService, rateLimiter services.RateLimiterService) *SignupController {
	return &SignupController{signupService: signup, rateLimiter: rateLimiter}
}

// RequestCode handles POST /signup/sms/request.
func (c *SignupController) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req dtos.SMSCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := c.rateLimiter.CheckSMSRateLimits(r.Context(), utils.ClientIP(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	if err := c.signupService.RequestCode(r.Context(), req.PhoneNumber); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Verification code sent"})
}

// VerifyCode handles POST /signup/sms/verify.
func (c *SignupController) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req dtos.SMSVerifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := c.rateLimiter.CheckConfirmRateLimits(r.Context(), utils.ClientIP(r), models.SMSFlowSignup, req.PhoneNumber); err != nil {
		respondServiceError(w, err)
		return
	}
	if err := c.signupService.ConfirmCode(r.Context(), req.PhoneNumber, req.Code); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Phone number verified"})
}

// CreateAccount handles POST /signup.
func (c *SignupController) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req dtos.CreateAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := c.signupService.CreateAccount(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, dtos.CreateAccountResponse{
		ID:      user.ID,
		Message: "Account created",
	})
}
