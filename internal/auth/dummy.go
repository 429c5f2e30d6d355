package auth

import (
	"context"
)

// DummyBackend accepts exactly one fixed token and maps it to a single user.
// It exists for development and tests.
type DummyBackend struct {
	Token  string
	UserID string
}

// NewDummyBackend creates a DummyBackend accepting "Token <token>".
func NewDummyBackend(token string) *DummyBackend {
	return &DummyBackend{
		Token:  token,
		UserID: DefaultUserID,
	}
}

// Authenticate checks the credential against the configured token.
func (e *DummyBackend) Authenticate(ctx context.Context, credential string) (*User, error) {
	if e.Token == "" || credential != TokenPrefix+e.Token {
		return nil, ErrUserNotFound
	}

	return &User{
		UserID: e.UserID,
	}, nil
}
