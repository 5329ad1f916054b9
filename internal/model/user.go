package model

import (
	"errors"
	"strings"
	"time"
)

// User is an account that owns one pantry.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Email        string     `json:"email,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Password length bounds. bcrypt ignores everything past 72 bytes.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// Username length bounds, in bytes.
const (
	MinUsernameLength = 2
	MaxUsernameLength = 64
)

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes")
	ErrInvalidUsername  = errors.New("username must be 2-64 letters, digits, '.', '_' or '-'")
)

// ValidatePassword checks password length rules.
func ValidatePassword(password string) error {
	switch {
	case len(password) < MinPasswordLength:
		return ErrPasswordTooShort
	case len(password) > MaxPasswordLength:
		return ErrPasswordTooLong
	}
	return nil
}

// NormalizeUsername trims and lowercases a username so "Alice " and "alice"
// name the same account.
func NormalizeUsername(username string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(username))
	if len(u) < MinUsernameLength || len(u) > MaxUsernameLength {
		return "", ErrInvalidUsername
	}
	for _, r := range u {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return "", ErrInvalidUsername
		}
	}
	return u, nil
}
