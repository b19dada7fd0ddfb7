package models

import "time"

// SMSFlow names the purpose a phone number is being verified for. Each flow
// keeps its own token namespace.
type SMSFlow string

const (
	SMSFlowSignup       SMSFlow = "signup"
	SMSFlowFindEmail    SMSFlow = "find_email"
	SMSFlowFindPassword SMSFlow = "find_password"
)

func (f SMSFlow) String() string { return string(f) }

func (f SMSFlow) Valid() bool {
	switch f {
	case SMSFlowSignup, SMSFlowFindEmail, SMSFlowFindPassword:
		return true
	}
	return false
}

// SMSVerificationToken for the sms_verification_tokens table.
//
// Key is the canonical phone number for signup and the owning user's ID for
// the find-* flows. UpdatedAt anchors both the code-expiry check and the
// resend window.
type SMSVerificationToken struct {
	Versioned

	Flow         SMSFlow   `json:"flow"`
	Key          string    `json:"key"`
	Code         string    `json:"code"`
	AttemptCount int       `json:"attempt_count"`
	Verified     bool      `json:"verified"`
	UpdatedAt    time.Time `json:"updated_at"`
	CreatedAt    time.Time `json:"created_at"`
}
