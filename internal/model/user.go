package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
)

// User is the canonical account record. Email is the merge key across
// providers; GoogleID is unique only among non-null values. PasswordHash
// is nil for accounts created through Google that never set a password.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash *string   `db:"password_hash" json:"-"`
	GoogleID     *string   `db:"google_id" json:"-"`
	AvatarURL    *string   `db:"avatar_url" json:"avatar_url,omitempty"`
	Provider     Provider  `db:"provider" json:"provider"`
	IsVerified   bool      `db:"is_verified" json:"is_verified"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// NormalizeEmail lowercases and trims an address so lookups and the admin
// allow-list compare the same form the unique index stores.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
