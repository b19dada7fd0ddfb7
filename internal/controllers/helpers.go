package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/banamarket/auth-service/internal/utils"
)

var validate = newValidator()

// customRules are the validate tags this service adds on top of the
// validator's built-ins.
var customRules = map[string]validator.Func{
	"kr_mobile": func(fl validator.FieldLevel) bool {
		return utils.IsMobile(fl.Field().String())
	},
	"account_password": func(fl validator.FieldLevel) bool {
		return utils.IsValidAccountPassword(fl.Field().String())
	},
	"hangul_name": func(fl validator.FieldLevel) bool {
		return utils.IsHangulName(fl.Field().String())
	},
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := registerRules(v, customRules); err != nil {
		panic(err)
	}
	return v
}

func registerRules(v *validator.Validate, rules map[string]validator.Func) error {
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %q validation: %w", tag, err)
		}
	}
	return nil
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// decodeAndValidate parses the JSON body into dst and runs its validate tags.
// On failure it writes the response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeInvalidPayload, "Invalid payload", nil, err,
		)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var details any
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]fieldError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fieldError{Field: fe.Field(), Rule: fe.Tag()})
			}
			details = fields
		}
		utils.RespondErrorWithCode(
			w, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid input format", details, err,
		)
		return false
	}
	return true
}

// respondServiceError maps a service failure to its HTTP response.
func respondServiceError(w http.ResponseWriter, err error) {
	var tpa *utils.ThirdPartyAccountError
	if errors.As(err, &tpa) {
		utils.RespondErrorWithCode(
			w, http.StatusConflict, utils.ErrCodeThirdPartyAccount,
			"This account signs in with "+tpa.Provider+". Please sign in with "+tpa.Provider+" instead.",
			map[string]string{"provider": tpa.Provider}, err,
		)
		return
	}
	utils.HandleAppError(w, toAppError(err))
}

func toAppError(err error) error {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return &utils.AppError{StatusCode: m.status, Code: m.code, Message: m.message, Err: err}
		}
	}
	return err
}

var errorMappings = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{utils.ErrInvalidFormat, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid input format"},
	{utils.ErrAlreadyRegistered, http.StatusConflict, utils.ErrCodePhoneExists, "This phone number is already registered"},
	{utils.ErrEmailExists, http.StatusConflict, utils.ErrCodeEmailExists, "This email is already registered"},
	{utils.ErrNoSuchAccount, http.StatusNotFound, utils.ErrCodeNotFound, "No account matches the given information"},
	{utils.ErrThirdPartyAccount, http.StatusConflict, utils.ErrCodeThirdPartyAccount, "This account signs in with a social provider"},
	{utils.ErrRateLimited, http.StatusTooManyRequests, utils.ErrCodeRateLimitExceeded, "Too many requests. Please try again later."},
	{utils.ErrAlreadyVerifiedRecently, http.StatusTooManyRequests, utils.ErrCodeAlreadyVerifiedRecently, "Already verified. Please try again in 10 minutes."},
	{utils.ErrNotRequested, http.StatusBadRequest, utils.ErrCodeNotRequested, "Please request a verification code first"},
	{utils.ErrExpired, http.StatusBadRequest, utils.ErrCodeExpired, "The verification code has expired. Please request a new one."},
	{utils.ErrAlreadyVerified, http.StatusConflict, utils.ErrCodeAlreadyVerified, "This code has already been verified"},
	{utils.ErrMismatch, http.StatusUnauthorized, utils.ErrCodeInvalidCode, "The verification code does not match"},
	{utils.ErrDeliveryFailed, http.StatusBadGateway, utils.ErrCodeDeliveryFailed, "Failed to send the text message. Please try again."},
	{utils.ErrPhoneNotVerified, http.StatusBadRequest, utils.ErrCodePhoneNotVerified, "Please verify your phone number first"},
	{utils.ErrRowVersionConflict, http.StatusConflict, utils.ErrCodeRowVersionConflict, "Another request is in progress. Please try again."},
	{utils.ErrTokenBusy, http.StatusConflict, utils.ErrCodeRowVersionConflict, "Another request is in progress. Please try again."},
	{utils.ErrExternalServiceFailure, http.StatusBadGateway, utils.ErrCodeExternalServiceFailure, "An external service failed. Please try again."},
}
