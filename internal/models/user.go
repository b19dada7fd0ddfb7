package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a storefront account. Accounts created through a social identity
// provider carry SocialProvider and have no password of their own.
type User struct {
	Versioned

	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	PhoneNumber    string    `json:"phone_number"`
	PasswordHash   string    `json:"-"`
	SocialProvider *string   `json:"social_provider,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (u *User) GetID() string { return u.ID.String() }

// IsSocial reports whether the account authenticates through a third-party
// identity provider.
func (u *User) IsSocial() bool {
	return u.SocialProvider != nil && *u.SocialProvider != ""
}
