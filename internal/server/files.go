package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"blockserver/internal/transfer"
)

// chunkSize bounds each read when streaming a body to the client.
const chunkSize = 8192

var (
	prefixPattern = regexp.MustCompile(`^[\w-]+$`)
	pathPattern   = regexp.MustCompile(`^[/\w-]+$`)
)

// parseFilePath splits "<prefix>/<path>" and validates both parts.
func parseFilePath(rest string) (prefix string, path string, err error) {
	prefix, path, ok := strings.Cut(rest, "/")
	if !ok || !prefixPattern.MatchString(prefix) || !pathPattern.MatchString(path) {
		return "", "", ErrBadRequest
	}
	return prefix, path, nil
}

// fileError writes err and counts the refused file request.
func (s *Server) fileError(w http.ResponseWriter, r *http.Request, err error) {
	s.Config.Metrics.AccessDenied()
	writeError(w, r, err)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rq := s.newRequest()
	defer rq.teardown()

	prefix, path, err := parseFilePath(r.PathValue("rest"))
	if err != nil {
		s.fileError(w, r, err)
		return
	}

	if err := s.authorizeFile(ctx, rq, r.Method, prefix, r.Header); err != nil {
		s.fileError(w, r, err)
		return
	}

	obj, err := s.Config.Dispatcher.Retrieve(ctx, transfer.StorageObject{
		Prefix: prefix,
		Path:   path,
		ETag:   r.Header.Get("If-None-Match"),
	})
	if err != nil {
		s.fileError(w, r, err)
		return
	}
	if obj == nil {
		s.fileError(w, r, ErrNotFound)
		return
	}
	defer obj.Release()

	w.Header().Set("ETag", obj.ETag)
	if obj.NotModified() {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	f, err := os.Open(obj.LocalFile)
	if errors.Is(err, os.ErrNotExist) {
		// Deleted between retrieval and opening.
		s.fileError(w, r, ErrNotFound)
		return
	}
	if err != nil {
		s.fileError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	sent, copyErr := io.CopyBuffer(w, io.LimitReader(f, obj.Size), make([]byte, chunkSize))
	if copyErr != nil {
		slog.Warn("Streaming file to client failed", "file_prefix", prefix, "path", path, "sent", sent, "err", copyErr)
	}

	s.Config.Metrics.ResponseTraffic(sent)
	if sent > 0 {
		// Bytes already sent are accounted even if the client went away.
		acct := context.WithoutCancel(ctx)
		db, err := rq.database(acct)
		if err == nil {
			err = db.UpdateTraffic(acct, prefix, sent)
		}
		if err != nil {
			slog.Error("Recording download traffic failed", "file_prefix", prefix, "bytes", sent, "err", err)
		}
	}
}

func (s *Server) handlePostFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rq := s.newRequest()
	defer rq.teardown()

	prefix, path, err := parseFilePath(r.PathValue("rest"))
	if err != nil {
		s.fileError(w, r, err)
		return
	}

	if err := s.authorizeFile(ctx, rq, r.Method, prefix, r.Header); err != nil {
		s.fileError(w, r, err)
		return
	}

	tempFile, err := os.CreateTemp(s.Config.TempDir, "upload-*")
	if err != nil {
		slog.Error("Error creating temp file for upload", "dir", s.Config.TempDir, "err", err)
		s.fileError(w, r, err)
		return
	}
	defer func() {
		if err := tempFile.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			slog.Debug("Failed to close temp upload file", "path", tempFile.Name(), "err", err)
		}

		// Best-effort cleanup of the temporary file; if the transfer backend
		// moved it into place via rename, this will just fail with ENOENT.
		if err := os.Remove(tempFile.Name()); err != nil && !os.IsNotExist(err) {
			slog.Debug("Failed to remove temp upload file", "path", tempFile.Name(), "err", err)
		}
	}()

	size, err := io.Copy(tempFile, r.Body)
	if err != nil {
		slog.Warn("Reading upload body failed", "file_prefix", prefix, "path", path, "err", err)
		s.fileError(w, r, ErrBodyRead)
		return
	}
	if err := tempFile.Close(); err != nil {
		s.fileError(w, r, err)
		return
	}

	db, err := rq.database(ctx)
	if err != nil {
		s.fileError(w, r, err)
		return
	}

	upload, err := s.gate.PermitUpload(ctx, db, rq.user.UserID, prefix, path, size)
	if err != nil {
		s.fileError(w, r, err)
		return
	}
	if !upload.Permitted {
		s.fileError(w, r, ErrQuotaExceeded)
		return
	}

	stored, delta, err := s.Config.Dispatcher.Store(ctx, transfer.StorageObject{
		Prefix:    prefix,
		Path:      path,
		LocalFile: tempFile.Name(),
		Size:      size,
	})
	if err != nil {
		s.fileError(w, r, err)
		return
	}

	s.Config.Metrics.RequestTraffic(stored.Size)
	if delta != 0 {
		if err := db.UpdateSize(context.WithoutCancel(ctx), prefix, delta); err != nil {
			s.fileError(w, r, err)
			return
		}
	}

	w.Header().Set("ETag", stored.ETag)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rq := s.newRequest()
	defer rq.teardown()

	prefix, path, err := parseFilePath(r.PathValue("rest"))
	if err != nil {
		s.fileError(w, r, err)
		return
	}

	if err := s.authorizeFile(ctx, rq, r.Method, prefix, r.Header); err != nil {
		s.fileError(w, r, err)
		return
	}

	freed, err := s.Config.Dispatcher.Delete(ctx, transfer.StorageObject{Prefix: prefix, Path: path})
	if err != nil {
		s.fileError(w, r, err)
		return
	}

	if freed != 0 {
		acct := context.WithoutCancel(ctx)
		db, err := rq.database(acct)
		if err == nil {
			err = db.UpdateSize(acct, prefix, -freed)
		}
		if err != nil {
			s.fileError(w, r, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
