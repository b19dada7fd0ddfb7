package dtos

import "github.com/google/uuid"

type CreateAccountRequest struct {
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=8,max=20,account_password"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	Name            string `json:"name" validate:"required,hangul_name"`
	PhoneNumber     string `json:"phone_number" validate:"required,kr_mobile"`
}

type CreateAccountResponse struct {
	ID      uuid.UUID `json:"id"`
	Message string    `json:"message"`
}
