package utils

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

const (
	ErrCodeInvalidPayload          = "invalid_payload"
	ErrCodeValidation              = "validation_error"
	ErrCodeInternal                = "internal_server_error"
	ErrCodeNotFound                = "not_found"
	ErrCodeConflict                = "conflict"
	ErrCodePhoneExists             = "phone_exists"
	ErrCodeEmailExists             = "email_exists"
	ErrCodeThirdPartyAccount       = "third_party_account"
	ErrCodeRateLimitExceeded       = "rate_limit_exceeded"
	ErrCodeAlreadyVerifiedRecently = "already_verified_recently"
	ErrCodeNotRequested            = "code_not_requested"
	ErrCodeExpired                 = "code_expired"
	ErrCodeAlreadyVerified         = "already_verified"
	ErrCodeInvalidCode             = "invalid_code"
	ErrCodePhoneNotVerified        = "phone_not_verified"
	ErrCodeDeliveryFailed          = "delivery_failed"
	ErrCodeRowVersionConflict      = "row_version_conflict"
	ErrCodeExternalServiceFailure  = "external_service_failure"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RespondErrorWithCode builds a JSON error response with a standard
// code and message. The optional `details` is included if non-nil.
func RespondErrorWithCode(
	w http.ResponseWriter,
	status int,
	errorCode string,
	publicMessage string,
	details any,
	devErrs ...error,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errBody := ErrorResponse{
		Code:    errorCode,
		Message: publicMessage,
	}
	if details != nil {
		errBody.Details = details
	}
	_ = json.NewEncoder(w).Encode(errBody)

	fields := logrus.Fields{"status": status, "code": errorCode}
	if len(devErrs) > 0 && devErrs[0] != nil {
		fields["error"] = devErrs[0].Error()
	}
	if status >= http.StatusInternalServerError {
		Logger.WithFields(fields).Error(publicMessage)
	} else {
		Logger.WithFields(fields).Info(publicMessage)
	}
}

// RespondWithJSON for successful cases
func RespondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
