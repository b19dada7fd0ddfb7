package controllers

import (
	"net/http"

	"github.com/banamarket/auth-service/internal/dtos"
	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/services"
	"github.com/banamarket/auth-service/internal/utils"
)

// FindAccountController serves the find-email and find-password flows.
type FindAccountController struct {
	findEmail    services.FindEmailService
	findPassword services.FindPasswordService
	rateLimiter  services.RateLimiterService
}

func NewFindAccountController(
	findEmail services.FindEmailService,
	findPassword services.FindPasswordService,
	rateLimiter services.RateLimiterService,
) *FindAccountController {
	return &FindAccountController{
		findEmail:    findEmail,
		findPassword: findPassword,
		rateLimiter:  rateLimiter,
	}
}

func (c *FindAccountController) RequestFindEmailCode(w http.ResponseWriter, r *http.Request) {
	var req dtos.SMSCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := c.rateLimiter.CheckSMSRateLimits(r.Context(), utils.ClientIP(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	if err := c.findEmail.RequestCode(r.Context(), req.PhoneNumber); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Verification code sent"})
}

func (c *FindAccountController) VerifyFindEmailCode(w http.ResponseWriter, r *http.Request) {
	var req dtos.SMSVerifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := c.rateLimiter.CheckConfirmRateLimits(r.Context(), utils.ClientIP(r), models.SMSFlowFindEmail, req.PhoneNumber); err != nil {
		respondServiceError(w, err)
		return
	}
	masked, err := c.findEmail.ConfirmCode(r.Context(), req.PhoneNumber, req.Code)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.FindEmailResponse{Email: masked})
}

func (c *FindAccountController) RequestFindPasswordCode(w http.ResponseWriter, r *http.Request) {
	var req dtos.FindPasswordCodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := c.rateLimiter.CheckSMSRateLimits(r.Context(), utils.ClientIP(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	if err := c.findPassword.RequestCode(r.Context(), req.Email, req.PhoneNumber); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "Verification code sent"})
}

func (c *FindAccountController) VerifyFindPasswordCode(w http.ResponseWriter, r *http.Request) {
	var req dtos.FindPasswordVerifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := c.rateLimiter.CheckConfirmRateLimits(r.Context(), utils.ClientIP(r), models.SMSFlowFindPassword, req.PhoneNumber); err != nil {
		respondServiceError(w, err)
		return
	}
	if err := c.findPassword.ConfirmCode(r.Context(), req.Email, req.PhoneNumber, req.Code); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, dtos.MessageResponse{Message: "A new password has been sent to your phone"})
}
