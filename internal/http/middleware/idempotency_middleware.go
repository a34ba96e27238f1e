package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/http/response"
	"github.com/alperenhakverdi/sesimiz-ol-sub000/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

// Idempotency replays the original response for a retried request carrying
// the same Idempotency-Key and body. Requests without the header pass
// through untouched.
func Idempotency(store service.IdempotencyStore, scope string, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyHeader)
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "unreadable request body", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := requestFingerprint(r.Method, r.URL.Path, body)

			result, err := store.Begin(r.Context(), scope, key, fingerprint, ttl)
			if err != nil {
				// the store is an optimization; losing it must not block
				// registration
				next.ServeHTTP(w, r)
				return
			}
			switch result.State {
			case service.IdempotencyStateReplay:
				w.Header().Set("Content-Type", result.Cached.ContentType)
				w.WriteHeader(result.Cached.StatusCode)
				_, _ = w.Write(result.Cached.Body)
				return
			case service.IdempotencyStateConflict:
				response.Error(w, r, http.StatusConflict, "IDEMPOTENCY_KEY_REUSED", "idempotency key was used with a different request", nil)
				return
			case service.IdempotencyStateInProgress:
				response.Error(w, r, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "original request is still in progress", nil)
				return
			}

			rec := &recordingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < http.StatusInternalServerError {
				_ = store.Complete(r.Context(), scope, key, fingerprint, service.CachedHTTPResponse{
					StatusCode:  rec.status,
					ContentType: rec.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
				}, ttl)
			}
		})
	}
}

func requestFingerprint(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte{0})
	sum.Write([]byte(path))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

type recordingResponseWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *recordingResponseWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}
