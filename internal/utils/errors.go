package utils

import (
	"errors"
	"net/http"
)

// Failure reasons returned by the verification services. Controllers map each
// one to a status code and a user-facing message.
var (
	ErrInvalidFormat           = errors.New("invalid_format")
	ErrAlreadyRegistered       = errors.New("already_registered")
	ErrNoSuchAccount           = errors.New("no_such_account")
	ErrThirdPartyAccount       = errors.New("third_party_account")
	ErrRateLimited             = errors.New("rate_limited")
	ErrAlreadyVerifiedRecently = errors.New("already_verified_recently")
	ErrNotRequested            = errors.New("not_requested")
	ErrExpired                 = errors.New("expired")
	ErrAlreadyVerified         = errors.New("already_verified")
	ErrMismatch                = errors.New("mismatch")
	ErrDeliveryFailed          = errors.New("delivery_failed")

	ErrPhoneNotVerified = errors.New("phone_not_verified")
	ErrEmailExists      = errors.New("email_exists")

	// For concurrency conflicts
	ErrRowVersionConflict = errors.New("row_version_conflict")
	ErrTokenBusy          = errors.New("token_busy")

	// For external service failures other than SMS delivery (Twilio lookups, SendGrid)
	ErrExternalServiceFailure = errors.New("external_service_failure")
)

// AppError carries a fully resolved HTTP failure from a service to a controller.
type AppError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// HandleAppError centralizes responding to AppErrors.
func HandleAppError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		RespondErrorWithCode(w, appErr.StatusCode, appErr.Code, appErr.Message, nil, appErr.Err)
	} else {
		RespondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternal, "An unexpected error occurred", nil, err)
	}
}

// ThirdPartyAccountError names the identity provider an account signs in with.
// It matches ErrThirdPartyAccount under errors.Is.
type ThirdPartyAccountError struct {
	Provider string
}

func (e *ThirdPartyAccountError) Error() string {
	return ErrThirdPartyAccount.Error() + ": " + e.Provider
}

func (e *ThirdPartyAccountError) Unwrap() error { return ErrThirdPartyAccount }
