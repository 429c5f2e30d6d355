package server

import (
	"net/http"
)

type prefixListResponse struct {
	Prefixes []string `json:"prefixes"`
}

type prefixCreateResponse struct {
	Prefix string `json:"prefix"`
}

type quotaResponse struct {
	Quota int64 `json:"quota"`
	Size  int64 `json:"size"`
}

func (s *Server) handleListPrefixes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rq := s.newRequest()
	defer rq.teardown()

	if err := s.authenticate(ctx, rq, r.Header); err != nil {
		writeError(w, r, err)
		return
	}

	db, err := rq.database(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	prefixes, err := db.Prefixes(ctx, rq.user.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, prefixListResponse{Prefixes: prefixes})
}

func (s *Server) handleCreatePrefix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rq := s.newRequest()
	defer rq.teardown()

	if err := s.authenticate(ctx, rq, r.Header); err != nil {
		writeError(w, r, err)
		return
	}

	db, err := rq.database(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	prefix, err := db.CreatePrefix(ctx, rq.user.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, prefixCreateResponse{Prefix: prefix})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rq := s.newRequest()
	defer rq.teardown()

	if err := s.authenticate(ctx, rq, r.Header); err != nil {
		writeError(w, r, err)
		return
	}

	db, err := rq.database(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	quota, size, err := db.Size(ctx, rq.user.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, quotaResponse{Quota: quota, Size: size})
}
