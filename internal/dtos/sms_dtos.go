package dtos

// ----------------------
// Requests
// ----------------------

type SMSCodeRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,kr_mobile"`
}

type SMSVerifyRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,kr_mobile"`
	Code        string `json:"code" validate:"required"`
}

type FindPasswordCodeRequest struct {
	Email       string `json:"email" validate:"required,email"`
	PhoneNumber string `json:"phone_number" validate:"required,kr_mobile"`
}

type FindPasswordVerifyRequest struct {
	Email       string `json:"email" validate:"required,email"`
	PhoneNumber string `json:"phone_number" validate:"required,kr_mobile"`
	Code        string `json:"code" validate:"required"`
}

// ----------------------
// Responses
// ----------------------

type MessageResponse struct {
	Message string `json:"message"`
}

type FindEmailResponse struct {
	Email string `json:"email"`
}
