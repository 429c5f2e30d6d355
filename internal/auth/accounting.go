package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const accountingUserPath = "/api/v0/internal/user/"

// AccountingBackend resolves credentials by asking the accounting server,
// authenticating itself with the shared API secret.
type AccountingBackend struct {
	BaseURL   string
	APISecret string
	Client    *http.Client
}

type accountingRequest struct {
	Auth string `json:"auth"`
}

type accountingResponse struct {
	UserID json.Number `json:"user_id"`
	Active bool        `json:"active"`
}

// NewAccountingBackend creates a backend for the accounting server at
// baseURL.
func NewAccountingBackend(baseURL string, apiSecret string) *AccountingBackend {
	return &AccountingBackend{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		APISecret: apiSecret,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Authenticate posts the credential to the accounting server. Unknown or
// inactive users yield ErrUserNotFound.
func (e *AccountingBackend) Authenticate(ctx context.Context, credential string) (*User, error) {
	body, err := json.Marshal(accountingRequest{Auth: credential})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+accountingUserPath, bytes.NewReader(body))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("APISECRET", e.APISecret)

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, Error.New("accounting request: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrUserNotFound
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, Error.New("accounting server answered %d", resp.StatusCode)
	}

	var decoded accountingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, Error.New("decode accounting response: %v", err)
	}

	if !decoded.Active || decoded.UserID == "" {
		return nil, ErrUserNotFound
	}

	return &User{UserID: decoded.UserID.String()}, nil
}
