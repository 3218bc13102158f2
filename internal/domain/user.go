package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a user entity in the system
// Maps to CockroachDB users table
type User struct {
	UserID            uuid.UUID `json:"user_id" db:"user_id"`
	Email             string    `json:"email" db:"email"`
	Username          string    `json:"username" db:"username"`
	DisplayName       string    `json:"display_name" db:"display_name"`
	AvatarURL         *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	AvailableForCalls bool      `json:"available_for_calls" db:"available_for_calls"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Name returns the display name, falling back to the username
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// UserSummary is the public view of a call party
type UserSummary struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
}

// ToSummary strips contact details
func (u *User) ToSummary() *UserSummary {
	return &UserSummary{
		UserID:      u.UserID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}
