package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"blockserver/internal/auth"
	"blockserver/internal/dbpool"
)

// StatusError is a client-visible failure with its HTTP status and a short
// reason.
type StatusError struct {
	Status int
	Reason string
}

func (e *StatusError) Error() string {
	return e.Reason
}

var (
	ErrBadRequest         = &StatusError{Status: http.StatusBadRequest, Reason: "No correct prefix supplied"}
	ErrQuotaExceeded      = &StatusError{Status: http.StatusPaymentRequired, Reason: "Quota reached"}
	ErrNoCredential       = &StatusError{Status: http.StatusForbidden, Reason: "No authorization given"}
	ErrUserNotFound       = &StatusError{Status: http.StatusForbidden, Reason: "User not found"}
	ErrNotAuthorized      = &StatusError{Status: http.StatusForbidden, Reason: "Not authorized for this prefix"}
	ErrNotFound           = &StatusError{Status: http.StatusNotFound, Reason: "File not found"}
	ErrServiceUnavailable = &StatusError{Status: http.StatusServiceUnavailable, Reason: "Service unavailable"}
	ErrBodyRead           = &StatusError{Status: http.StatusBadRequest, Reason: "Failed to read request body"}
	ErrMethodNotAllowed   = &StatusError{Status: http.StatusMethodNotAllowed, Reason: "Method not allowed"}
	errInternal           = &StatusError{Status: http.StatusInternalServerError, Reason: "Internal server error"}
)

// classify maps err onto the status taxonomy. Unclassified errors are
// internal errors.
func classify(err error) *StatusError {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return statusErr
	case errors.Is(err, dbpool.ErrServiceUnavailable):
		return ErrServiceUnavailable
	case errors.Is(err, auth.ErrUserNotFound):
		return ErrUserNotFound
	default:
		return errInternal
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write JSON response", "err", err)
	}
}

// writeError writes the client-visible form of err. Internal details are
// only logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	statusErr := classify(err)
	if statusErr.Status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, statusErr.Status, errorResponse{Error: statusErr.Reason})
}
