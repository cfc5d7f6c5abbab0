package domain

import "time"

// UserStatus representa el ciclo de vida de una cuenta.
type UserStatus string

const (
	UserStatusPending  UserStatus = "PENDING"
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusDisabled UserStatus = "DISABLED"
)

type User struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email"`
	DisplayName            string     `json:"display_name,omitempty"`
	Status                 UserStatus `json:"status"`
	AuthProvider           string     `json:"auth_provider,omitempty"`
	AuthSubject            string     `json:"-"`
	PasswordHash           string     `json:"-"`
	TwoFactorEnabled       bool       `json:"two_factor_enabled"`
	TwoFactorSecret        string     `json:"-"`
	TwoFactorPendingSecret string     `json:"-"`
	EmailVerifiedAt        *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// HasPassword indica si la cuenta admite login con contraseña (las cuentas OAuth no).
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}
