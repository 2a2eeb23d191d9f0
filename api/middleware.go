package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmcleod/aegis/storage"
)

type contextKey int

const (
	ownerKey contextKey = iota
	sessionKey
)

// AuthMiddleware authenticates a Bearer token, resolves the live session
// it is bound to, and signals activity to the idle supervisor. A token
// whose session has been terminated is rejected even when the signature
// is still valid.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		claims, err := parseToken(a.jwtSecret, raw)
		if err != nil || claims.Scope != "" || claims.ID == "" {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		sess, err := a.registry.Current(r.Context(), claims.Subject, claims.ID)
		if err != nil {
			a.mapError(w, r, err)
			return
		}
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "session ended")
			return
		}

		if a.supervisor != nil {
			a.supervisor.Touch(sess.ID)
		}

		ctx := context.WithValue(r.Context(), ownerKey, claims.Subject)
		ctx = context.WithValue(ctx, sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}

func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey).(string)
	return owner
}

func sessionFromContext(ctx context.Context) *storage.Session {
	sess, _ := ctx.Value(sessionKey).(*storage.Session)
	return sess
}
