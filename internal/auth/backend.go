package auth

import (
	"context"
	"errors"

	"github.com/zeebo/errs"
)

const (
	// TokenPrefix is the scheme expected in front of every credential.
	TokenPrefix = "Token "

	// DefaultUserID is the identity handed out by the development backend.
	DefaultUserID = "0"
)

var (
	// Error is the error class for failures talking to an auth backend.
	Error = errs.Class("auth")

	// ErrUserNotFound is returned when a credential does not resolve to an
	// active user.
	ErrUserNotFound = errors.New("user not found")
)

// User is the identity a credential resolves to.
type User struct {
	UserID string `json:"user_id"`
}

type Backend interface {

	// Authenticate resolves the raw Authorization header value into a User.
	// It returns ErrUserNotFound if the credential is unknown or inactive,
	// and an error of class Error if the backend could not be consulted.
	Authenticate(ctx context.Context, credential string) (*User, error)
}
