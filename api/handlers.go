package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/aegis/storage"
)

// MFAStatus handles GET /mfa.
func (a *API) MFAStatus(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	status, err := a.manager.Status(r.Context(), ownerID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SetupMFA handles POST /mfa/setup.
func (a *API) SetupMFA(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	setup, err := a.manager.InitiateSetup(r.Context(), ownerID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditMFASetup, r, ownerID)
	writeJSON(w, http.StatusOK, SetupMFAResponse{
		Secret:        setup.Secret,
		RecoveryCodes: setup.RecoveryCodes,
		OtpauthURL:    setup.EnrollmentURI,
		ExpiresAt:     setup.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// EnableMFA handles POST /mfa/enable.
func (a *API) EnableMFA(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	req, ok := decodeJSON[EnableMFARequest](w, r, maxBodySize)
	if !ok {
		return
	}

	if err := a.manager.CompleteSetup(r.Context(), ownerID, req.Code); err != nil {
		a.mapError(w, r, err)
		return
	}
	status, err := a.manager.Status(r.Context(), ownerID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditMFAEnabled, r, ownerID)
	writeJSON(w, http.StatusOK, status)
}

// DisableMFA handles DELETE /mfa.
func (a *API) DisableMFA(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	if err := a.manager.Disable(r.Context(), ownerID); err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditMFADisabled, r, ownerID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// PutKey handles PUT /keys/{name}.
func (a *API) PutKey(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	name := chi.URLParam(r, "name")
	req, ok := decodeJSON[PutKeyRequest](w, r, maxBodySize)
	if !ok {
		return
	}

	if err := a.vault.StoreSecureKey(r.Context(), ownerID, name, req.Value); err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditSecretStored, r, ownerID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// GetKey handles GET /keys/{name}.
func (a *API) GetKey(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	name := chi.URLParam(r, "name")

	value, found, err := a.vault.GetSecureKey(r.Context(), ownerID, name)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, GetKeyResponse{Name: name, Value: value})
}

// DeleteKey handles DELETE /keys/{name}.
func (a *API) DeleteKey(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	name := chi.URLParam(r, "name")

	if err := a.vault.DeleteSecureKey(r.Context(), ownerID, name); err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditSecretDeleted, r, ownerID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// ListSessions handles GET /sessions.
func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	current := sessionFromContext(r.Context())

	sessions, err := a.registry.ListActive(r.Context(), ownerID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	resp := ListSessionsResponse{Sessions: make([]SessionSummary, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, SessionSummary{
			ID:        s.ID,
			Device:    deviceView(s.Device),
			Location:  placeView(s.Location),
			CreatedAt: s.CreatedAt,
			Current:   s.ID == current.ID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// TerminateSession handles DELETE /sessions/{sessionID}. Owners may only
// terminate their own sessions; terminating the current one is a logout.
func (a *API) TerminateSession(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	current := sessionFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	target, err := a.findOwnSession(r, ownerID, sessionID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := a.registry.Terminate(r.Context(), sessionID); err != nil {
		a.mapError(w, r, err)
		return
	}
	if a.supervisor != nil {
		a.supervisor.Release(sessionID)
	}

	event := AuditSessionTerminated
	if sessionID == current.ID {
		event = AuditLogout
	}
	a.audit.logEvent(event, r, ownerID, slog.String("session_id", sessionID))
	writeJSON(w, http.StatusOK, struct{}{})
}

// TerminateOtherSessions handles DELETE /sessions: ends every session of
// the owner except the caller's own.
func (a *API) TerminateOtherSessions(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())
	current := sessionFromContext(r.Context())

	terminated, err := a.registry.TerminateOthers(r.Context(), ownerID, current.Token)
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditSessionsCleared, r, ownerID)
	writeJSON(w, http.StatusOK, TerminateOthersResponse{Terminated: terminated})
}

// LoginHistory handles GET /login-history.
func (a *API) LoginHistory(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromContext(r.Context())

	attempts, err := a.ledger.List(r.Context(), ownerID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	resp := LoginHistoryResponse{Attempts: make([]LoginAttemptView, 0, len(attempts))}
	for _, attempt := range attempts {
		resp.Attempts = append(resp.Attempts, LoginAttemptView{
			ID:        attempt.ID,
			Success:   attempt.Success,
			Device:    deviceView(attempt.Device),
			Location:  placeView(attempt.Location),
			CreatedAt: attempt.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// findOwnSession resolves sessionID among the owner's active sessions so
// one owner cannot terminate another's session by guessing IDs.
func (a *API) findOwnSession(r *http.Request, ownerID, sessionID string) (*storage.Session, error) {
	sessions, err := a.registry.ListActive(r.Context(), ownerID)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			return s, nil
		}
	}
	return nil, nil
}

func deviceView(d storage.DeviceInfo) DeviceView {
	return DeviceView{Kind: d.Kind, Agent: d.Agent, OS: d.OS}
}

func placeView(l storage.Location) PlaceView {
	return PlaceView{City: l.City, Country: l.Country, Timezone: l.Timezone}
}
