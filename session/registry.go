// Package session tracks authenticated sessions and the login-history
// ledger. The registry enforces a per-owner cap on concurrent active
// sessions; the ledger keeps a bounded, append-only record of
// authentication attempts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/aegis/internal/uuid"
	"github.com/jmcleod/aegis/storage"
)

// DefaultMaxSessions is the per-owner cap on concurrently active
// sessions.
const DefaultMaxSessions = 10

// Registry tracks authenticated sessions per owner. Cap enforcement is
// lazy: a create or listing that discovers the cap exceeded terminates
// the oldest excess sessions, so transient over-cap states converge on
// the next read rather than requiring cross-request atomicity.
type Registry struct {
	store       storage.SessionStore
	maxSessions int
	logger      *slog.Logger
	now         func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxSessions overrides the per-owner active-session cap.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) { r.maxSessions = n }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry over the given session store.
func NewRegistry(store storage.SessionStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:       store,
		maxSessions: DefaultMaxSessions,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts a new active session for the owner and enforces the
// active-session cap.
func (r *Registry) Create(ctx context.Context, ownerID string, device storage.DeviceInfo, location storage.Location) (*storage.Session, error) {
	session := &storage.Session{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Token:     uuid.New(),
		Device:    device,
		Location:  location,
		IsActive:  true,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.InsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	if err := r.enforceCap(ctx, ownerID); err != nil {
		// The session itself was created; cap convergence retries on
		// the next listing.
		r.logger.Warn("failed to enforce session cap", "owner_id", ownerID, "error", err)
	}
	return session, nil
}

// ListActive returns the owner's active sessions, most recent first,
// after enforcing the cap.
func (r *Registry) ListActive(ctx context.Context, ownerID string) ([]*storage.Session, error) {
	if err := r.enforceCap(ctx, ownerID); err != nil {
		r.logger.Warn("failed to enforce session cap", "owner_id", ownerID, "error", err)
	}
	sessions, err := r.store.ListSessions(ctx, ownerID, true)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// Terminate marks the session inactive and stamps its end time. It is
// idempotent: terminating an absent or already-terminated session is a
// no-op. The record is never hard-deleted.
func (r *Registry) Terminate(ctx context.Context, sessionID string) error {
	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("loading session: %w", err)
	}
	if !session.IsActive {
		return nil
	}
	endedAt := r.now().UTC()
	session.IsActive = false
	session.EndedAt = &endedAt
	if err := r.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("terminating session: %w", err)
	}
	return nil
}

// TerminateOthers terminates every active session of the owner except
// the one matching keepToken, returning the number terminated. It exists
// so the "end other sessions" action cannot sign out the caller.
func (r *Registry) TerminateOthers(ctx context.Context, ownerID, keepToken string) (int, error) {
	sessions, err := r.store.ListSessions(ctx, ownerID, true)
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}
	terminated := 0
	for _, s := range sessions {
		if s.Token == keepToken {
			continue
		}
		if err := r.Terminate(ctx, s.ID); err != nil {
			return terminated, err
		}
		terminated++
	}
	return terminated, nil
}

// Current returns the owner's active session matching the given live
// token, or nil if none matches. Callers use it to distinguish "this
// device" from others and to detect self-termination.
func (r *Registry) Current(ctx context.Context, ownerID, token string) (*storage.Session, error) {
	sessions, err := r.store.ListSessions(ctx, ownerID, true)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	for _, s := range sessions {
		if s.Token == token {
			return s, nil
		}
	}
	return nil, nil
}

// enforceCap terminates the oldest active sessions beyond the cap.
func (r *Registry) enforceCap(ctx context.Context, ownerID string) error {
	sessions, err := r.store.ListSessions(ctx, ownerID, true)
	if err != nil {
		return err
	}
	if len(sessions) <= r.maxSessions {
		return nil
	}
	// Sessions are ordered most recent first; everything past the cap
	// is oldest-excess.
	for _, s := range sessions[r.maxSessions:] {
		if err := r.Terminate(ctx, s.ID); err != nil {
			return err
		}
	}
	return nil
}
