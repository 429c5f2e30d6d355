package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"blockserver/internal/metrics"
)

// statusRecorder remembers the first status written and counts body bytes.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if w.status == 0 {
		w.status = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Observe brackets every request with the in-flight gauge and the latency
// histogram of recorder, and logs one line per request: 5xx at error, 4xx at
// warn, everything else at info.
func Observe(recorder *metrics.Recorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder.RequestStarted()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			recorder.RequestFinished(start)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}

			level := slog.LevelInfo
			switch {
			case status >= http.StatusInternalServerError:
				level = slog.LevelError
			case status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			slog.Log(r.Context(), level, "Request",
				slog.Group("request",
					"method", r.Method,
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
					"status", status,
					"bytes", rec.written,
					"duration_ms", float64(time.Since(start).Microseconds())/1000,
				),
			)
		}()

		next.ServeHTTP(rec, r)
	})
}

// SlashFix collapses doubled slashes and strips a trailing slash, so
// "/api/v0/prefix/" and "/api/v0/prefix" reach the same route. File paths
// never pass through it; they are kept verbatim.
func SlashFix(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for strings.Contains(r.URL.Path, "//") {
			r.URL.Path = strings.ReplaceAll(r.URL.Path, "//", "/")
		}
		if r.URL.Path != "/" {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}
		r.URL.RawPath = ""

		next.ServeHTTP(w, r)
	})
}

// Recoverer turns a panicking handler into a 500 with the usual JSON error
// body. http.ErrAbortHandler is passed through so the connection is dropped.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			writeError(w, r, fmt.Errorf("panic in handler: %v", rvr))
		}()

		next.ServeHTTP(w, r)
	})
}
