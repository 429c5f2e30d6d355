package server

import (
	"context"
	"errors"
	"net/http"

	"blockserver/internal/auth"
)

// authenticate resolves the Authorization header into a user.
func (s *Server) authenticate(ctx context.Context, rq *request, header http.Header) error {
	credential := header.Get("Authorization")
	if credential == "" {
		return ErrNoCredential
	}

	user, err := s.Config.Auth.Authenticate(ctx, credential)
	if errors.Is(err, auth.ErrUserNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	rq.user = user
	return nil
}

// authorizeFile decides whether a file request on prefix may proceed. Reads
// need no credential and are only refused once the download quota is used
// up. Writes need a credential whose user owns prefix.
func (s *Server) authorizeFile(ctx context.Context, rq *request, method string, prefix string, header http.Header) error {
	if method == http.MethodGet || method == http.MethodHead {
		db, err := rq.database(ctx)
		if err != nil {
			return err
		}

		permitted, err := s.gate.PermitDownload(ctx, db, prefix)
		if err != nil {
			return err
		}
		if !permitted {
			return ErrQuotaExceeded
		}
		return nil
	}

	if err := s.authenticate(ctx, rq, header); err != nil {
		return err
	}

	db, err := rq.database(ctx)
	if err != nil {
		return err
	}

	owns, err := db.HasPrefix(ctx, rq.user.UserID, prefix)
	if err != nil {
		return err
	}
	if !owns {
		return ErrNotAuthorized
	}
	return nil
}
