package domain

import (
	"time"
)

// Account represents a registered identity on the platform. Username and
// email are globally unique. PasswordHash and RefreshToken never leave the
// server; both are excluded from JSON and zeroed by Public.
type Account struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	PasswordHash  string    `json:"-"`
	AvatarURL     string    `json:"avatar"`
	CoverImageURL string    `json:"cover_image,omitempty"`
	RefreshToken  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Public returns a copy safe to attach to a request context or return to a
// client: password digest and refresh-token slot stripped.
func (a *Account) Public() *Account {
	cp := *a
	cp.PasswordHash = ""
	cp.RefreshToken = ""
	return &cp
}

// TokenPair holds an access and refresh token pair as returned to clients.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
