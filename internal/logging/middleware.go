package logging

import (
	"log/slog"
	"net/http"
	"time"
)

// HTTPMiddleware returns an http.Handler that logs every request with
// method, path, status code and duration. The project query parameter
// is carried when present so hub traffic can be filtered per project;
// health probes are logged without it.
func HTTPMiddleware(next http.Handler) http.Handler {
	logger := slog.With("component", "http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration", time.Since(start),
		}
		if proj := r.URL.Query().Get("project"); proj != "" {
			attrs = append(attrs, "project", proj)
		}
		logger.Debug("request", attrs...)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController and middleware that need
// the underlying ResponseWriter (e.g. for Flush, Hijack).
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
