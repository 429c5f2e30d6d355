// Package server is the HTTP surface of the block server: file transfer,
// prefix management and quota inspection.
package server

import (
	"errors"
	"net/http"
	"strings"

	"blockserver/internal/metrics"
	"blockserver/internal/quota"
)

// Server orchestrates authorization, quota checks, transfers and accounting
// for every request.
type Server struct {
	Config Config
	gate   *quota.Gate
}

// NewServer validates cfg and fills in defaults for optional collaborators.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Broker == nil {
		return nil, errors.New("a connection broker is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("an auth backend is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("a transfer dispatcher is required")
	}

	if cfg.Policy == nil {
		cfg.Policy = quota.DefaultPolicy{}
	}

	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRecorder()
	}

	return &Server{
		Config: cfg,
		gate:   quota.NewGate(cfg.Policy, cfg.Dispatcher),
	}, nil
}

// filesRoot is the root of the file API. Everything below it is
// "<prefix>/<path>".
const filesRoot = "/api/v0/files"

// Handler returns the routed API with request accounting and panic recovery
// applied.
func (s *Server) Handler() http.Handler {
	accounts := http.NewServeMux()
	accounts.HandleFunc("GET /api/v0/prefix", s.handleListPrefixes)
	accounts.HandleFunc("POST /api/v0/prefix", s.handleCreatePrefix)
	accounts.HandleFunc("GET /api/v0/quota", s.handleQuota)
	normalized := SlashFix(accounts)

	// File paths bypass ServeMux, which would clean "a//b" and redirect.
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rest, ok := fileRoute(r.URL.Path); ok {
			s.routeFile(w, r, rest)
			return
		}
		normalized.ServeHTTP(w, r)
	})

	return Observe(s.Config.Metrics, Recoverer(root))
}

// fileRoute reports whether path addresses the file API and returns the part
// after the root unchanged. The bare root yields an empty rest, which is a
// bad request rather than an unknown route.
func fileRoute(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, filesRoot)
	if !ok {
		return "", false
	}
	if rest == "" {
		return "", true
	}
	return strings.CutPrefix(rest, "/")
}

func (s *Server) routeFile(w http.ResponseWriter, r *http.Request, rest string) {
	r.SetPathValue("rest", rest)

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleGetFile(w, r)
	case http.MethodPost:
		s.handlePostFile(w, r)
	case http.MethodDelete:
		s.handleDeleteFile(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST, DELETE")
		writeError(w, r, ErrMethodNotAllowed)
	}
}
