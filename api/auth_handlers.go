package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/aegis/mfa"
)

const (
	// Login-path store calls are retried so a blip in the backing store
	// does not bounce an otherwise valid login. Other surfaces fail fast.
	loginRetryAttempts = 3
	loginRetryBackoff  = 100 * time.Millisecond
)

// Directory authenticates primary credentials. It is the boundary to
// whatever identity system fronts this subsystem; accounts themselves
// are not managed here.
type Directory interface {
	// Authenticate verifies username/password. ok is false for bad
	// credentials; ownerID is still returned when the username resolves,
	// so the failed attempt can land in that owner's login history.
	Authenticate(ctx context.Context, username, password string) (ownerID string, ok bool, err error)
}

// StaticAccount is one entry in a StaticDirectory.
type StaticAccount struct {
	OwnerID  string
	Password string
}

// StaticDirectory is a fixed in-memory Directory for tests and
// single-tenant deployments.
type StaticDirectory map[string]StaticAccount

// Authenticate implements Directory with constant-time password
// comparison.
func (d StaticDirectory) Authenticate(_ context.Context, username, password string) (string, bool, error) {
	account, found := d[username]
	if !found {
		return "", false, nil
	}
	want := sha256.Sum256([]byte(account.Password))
	got := sha256.Sum256([]byte(password))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return account.OwnerID, false, nil
	}
	return account.OwnerID, true, nil
}

// withRetry runs fn up to loginRetryAttempts times with linear backoff.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < loginRetryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt+1) * loginRetryBackoff):
		}
	}
	return err
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxBodySize)
	if !ok {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	device, location := a.prober.Probe(r)

	ownerID, authenticated, err := a.directory.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authentication unavailable")
		return
	}
	if !authenticated {
		if ownerID != "" {
			if err := withRetry(r.Context(), func() error {
				return a.ledger.Record(r.Context(), ownerID, false, device, location)
			}); err != nil {
				a.audit.logFailure(AuditLoginFailure, r, "failed to record attempt",
					slog.String("error", err.Error()))
			}
		}
		a.audit.logFailure(AuditLoginFailure, r, "invalid credentials")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	required, err := a.manager.Required(r.Context(), ownerID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if required {
		challenge, err := issueChallengeToken(a.jwtSecret, ownerID, a.now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to issue challenge")
			return
		}
		a.audit.logEvent(AuditLoginMFARequired, r, ownerID)
		writeJSON(w, http.StatusOK, LoginResponse{MFARequired: true, Token: challenge})
		return
	}

	if err := withRetry(r.Context(), func() error {
		return a.ledger.Record(r.Context(), ownerID, true, device, location)
	}); err != nil {
		a.audit.logFailure(AuditLoginFailure, r, "failed to record attempt",
			slog.String("error", err.Error()))
	}

	a.issueSession(w, r, ownerID)
}

// LoginMFA handles POST /auth/login/mfa: completes a challenge with a
// TOTP code or a one-time recovery code.
func (a *API) LoginMFA(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[MFALoginRequest](w, r, maxBodySize)
	if !ok {
		return
	}

	claims, err := parseToken(a.jwtSecret, req.ChallengeToken)
	if err != nil || claims.Scope != scopeMFAChallenge {
		writeError(w, http.StatusUnauthorized, "invalid challenge token")
		return
	}
	ownerID := claims.Subject
	device, location := a.prober.Probe(r)

	var verified bool
	switch {
	case req.Code != "":
		verified, err = a.manager.VerifyLogin(r.Context(), ownerID, req.Code, device, location)
	case req.RecoveryCode != "":
		verified, err = a.manager.UseRecoveryCode(r.Context(), ownerID, req.RecoveryCode, device, location)
		if err == nil && verified {
			a.audit.logEvent(AuditRecoveryCodeUsed, r, ownerID)
		}
	default:
		writeError(w, http.StatusBadRequest, "code or recovery_code is required")
		return
	}
	if err != nil {
		if errors.Is(err, mfa.ErrRateLimited) {
			a.audit.logFailure(AuditLoginRateLimited, r, "mfa rate limited",
				slog.String("owner_id", ownerID))
		}
		a.mapError(w, r, err)
		return
	}
	if !verified {
		a.audit.logFailure(AuditMFAFailure, r, "invalid code",
			slog.String("owner_id", ownerID))
		writeError(w, http.StatusUnauthorized, "invalid code")
		return
	}

	a.issueSession(w, r, ownerID)
}

// issueSession creates the session row and returns the signed bearer
// token. Shared by password-only and MFA-completed logins.
func (a *API) issueSession(w http.ResponseWriter, r *http.Request, ownerID string) {
	device, location := a.prober.Probe(r)

	sess, err := a.registry.Create(r.Context(), ownerID, device, location)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	token, err := issueSessionToken(a.jwtSecret, ownerID, sess.Token, a.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	if a.supervisor != nil {
		a.supervisor.Touch(sess.ID)
	}

	a.audit.logEvent(AuditLoginSuccess, r, ownerID, slog.String("session_id", sess.ID))
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, SessionID: sess.ID})
}

// Logout handles POST /auth/logout: terminates the caller's own session.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	sess := sessionFromContext(r.Context())

	if err := a.registry.Terminate(r.Context(), sess.ID); err != nil {
		a.mapError(w, r, err)
		return
	}
	if a.supervisor != nil {
		a.supervisor.Release(sess.ID)
	}

	a.audit.logEvent(AuditLogout, r, ownerID, slog.String("session_id", sess.ID))
	writeJSON(w, http.StatusOK, struct{}{})
}
