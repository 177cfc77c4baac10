package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"

	"streamcast/internal/observability/logging"
)

const (
	requestIDHeader = "X-Request-Id"
	sessionIDHeader = "X-Session-Id"
)

// requestIDMiddleware ensures every request carries a request ID, generating
// one when the client did not supply it, and propagates it via the context and
// the response headers. A session ID header, when present, is carried on the
// context as well so downstream log lines pick it up.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = newRequestID()
		}
		ctx := logging.ContextWithRequestID(r.Context(), id)
		if sessionID := strings.TrimSpace(r.Header.Get(sessionIDHeader)); sessionID != "" {
			ctx = logging.ContextWithSessionID(ctx, sessionID)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf[:])
}
