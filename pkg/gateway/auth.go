package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware rejects requests that do not carry the shared secret as a
// bearer token. Comparison is constant-time.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.sharedSecret)) != 1 {
			s.logger.Warn().
				Str("remote", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("Rejected request with invalid token")
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
