package observability

import (
	"log/slog"
	"net/http"
)

// Audit emits a structured security event. Replay detection, bans, and
// logout-all land here so they can be alerted on, not just returned as 401s.
func Audit(r *http.Request, event string, attrs ...any) {
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", r.Header.Get("X-Request-Id"),
	}
	base = append(base, attrs...)
	slog.InfoContext(r.Context(), "audit", base...)
}
