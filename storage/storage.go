// Package storage defines the entities of the account security subsystem
// and the Store interfaces its components persist through. Three backends
// implement Store: memory (tests, demos), bbolt (embedded), and postgres
// (production relational store).
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no matching record exists.
var ErrNotFound = errors.New("record not found")

// DeviceInfo describes the client device behind a session or login
// attempt. All fields are best-effort inputs from the probe layer.
type DeviceInfo struct {
	Kind  string `json:"kind" db:"kind"`
	Agent string `json:"agent_name" db:"agent_name"`
	OS    string `json:"os_name" db:"os_name"`
}

// Location describes the best-effort client location.
type Location struct {
	City     string `json:"city" db:"city"`
	Country  string `json:"country" db:"country"`
	Timezone string `json:"timezone" db:"timezone"`
}

// SecretEntry is a vault-encrypted secret value. Ciphertext is an
// AES-256-GCM output; the entry is unique on (OwnerID, KeyName).
type SecretEntry struct {
	OwnerID    string `json:"owner_id" db:"owner_id"`
	KeyName    string `json:"key_name" db:"key_name"`
	Ciphertext []byte `json:"ciphertext" db:"ciphertext"`
	Nonce      []byte `json:"nonce" db:"nonce"`
}

// Credential is the per-owner MFA credential row. At most one live record
// exists per owner. The TOTP secret and recovery codes are not stored
// here; they live in the vault under well-known key names.
type Credential struct {
	OwnerID           string     `json:"owner_id" db:"owner_id"`
	Enabled           bool       `json:"enabled" db:"enabled"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	RecoveryRemaining int        `json:"recovery_remaining" db:"recovery_remaining"`
}

// PendingSetup is the ephemeral single-slot-per-owner MFA enrollment
// record. It is upserted by setup initiation, consumed by completion,
// and invalid once ExpiresAt passes even if still present.
type PendingSetup struct {
	OwnerID       string    `json:"owner_id" db:"owner_id"`
	Secret        string    `json:"secret" db:"secret"`
	RecoveryCodes []string  `json:"recovery_codes" db:"-"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the pending setup is past its expiry.
func (p *PendingSetup) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Session is an authenticated session record. Sessions are terminated by
// clearing IsActive and stamping EndedAt; they are never hard-deleted.
type Session struct {
	ID        string     `json:"id" db:"id"`
	OwnerID   string     `json:"owner_id" db:"owner_id"`
	Token     string     `json:"session_token" db:"session_token"`
	Device    DeviceInfo `json:"device_info"`
	Location  Location   `json:"location"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// LoginAttempt is an append-only authentication attempt record.
type LoginAttempt struct {
	ID        string     `json:"id" db:"id"`
	OwnerID   string     `json:"owner_id" db:"owner_id"`
	Success   bool       `json:"success" db:"success"`
	Device    DeviceInfo `json:"device_info"`
	Location  Location   `json:"location"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// SecretStore persists vault secret entries.
type SecretStore interface {
	// PutSecret inserts or updates the entry keyed on (OwnerID, KeyName).
	PutSecret(ctx context.Context, entry *SecretEntry) error
	// GetSecret returns ErrNotFound if no entry exists.
	GetSecret(ctx context.Context, ownerID, keyName string) (*SecretEntry, error)
	// DeleteSecret is idempotent; deleting an absent entry is not an error.
	DeleteSecret(ctx context.Context, ownerID, keyName string) error
}

// CredentialStore persists MFA credential rows.
type CredentialStore interface {
	UpsertCredential(ctx context.Context, cred *Credential) error
	// GetCredential returns ErrNotFound if the owner has no record.
	GetCredential(ctx context.Context, ownerID string) (*Credential, error)
}

// PendingSetupStore persists ephemeral MFA enrollment records.
type PendingSetupStore interface {
	// UpsertPendingSetup replaces any existing record for the owner.
	UpsertPendingSetup(ctx context.Context, setup *PendingSetup) error
	// GetPendingSetup returns ErrNotFound if the owner has no record.
	GetPendingSetup(ctx context.Context, ownerID string) (*PendingSetup, error)
	// DeletePendingSetup is idempotent.
	DeletePendingSetup(ctx context.Context, ownerID string) error
}

// SessionStore persists session records.
type SessionStore interface {
	InsertSession(ctx context.Context, session *Session) error
	// GetSession returns ErrNotFound if no session has the given ID.
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions returns the owner's sessions ordered most recent
	// first. With activeOnly set, terminated sessions are excluded.
	ListSessions(ctx context.Context, ownerID string, activeOnly bool) ([]*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
}

// AttemptStore persists login attempt records.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, attempt *LoginAttempt) error
	// ListAttempts returns the owner's attempts ordered most recent
	// first, capped to limit. A limit of 0 means no cap.
	ListAttempts(ctx context.Context, ownerID string, limit int) ([]*LoginAttempt, error)
	// PruneAttempts deletes all but the keep most recent attempts and
	// returns the number deleted.
	PruneAttempts(ctx context.Context, ownerID string, keep int) (int, error)
}

// Store is the composite interface the server wires into its components.
type Store interface {
	SecretStore
	CredentialStore
	PendingSetupStore
	SessionStore
	AttemptStore
}
