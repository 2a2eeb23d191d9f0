// Package mfa implements the multi-factor authentication lifecycle:
// setup, verification, per-login challenge, and disable. Credentials
// move through the states Unset -> PendingVerification -> Enabled ->
// Unset; no owner can reach Enabled without verifying a code derived
// from the pending secret.
package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/aegis/storage"
	"github.com/jmcleod/aegis/vault"
)

const (
	// setupTTL bounds how long a pending enrollment stays valid.
	setupTTL = 1 * time.Hour

	// Vault key names for the secrets an enabled credential owns.
	vaultKeySecret   = "mfa/totp-secret"
	vaultKeyRecovery = "mfa/recovery-codes"

	defaultIssuer = "Aegis"
)

// Recorder receives verification-attempt audit records. Failures are
// logged, never propagated to the caller.
type Recorder interface {
	Record(ctx context.Context, ownerID string, success bool, device storage.DeviceInfo, location storage.Location) error
}

// Setup is returned from InitiateSetup. Secret and RecoveryCodes are
// shown to the user exactly once.
type Setup struct {
	Secret        string
	RecoveryCodes []string
	EnrollmentURI string
	ExpiresAt     time.Time
}

// Status is the read-only credential projection for display. It never
// carries the secret.
type Status struct {
	Enabled              bool       `json:"enabled"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	LastUsedAt           *time.Time `json:"last_used_at,omitempty"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
}

// Manager orchestrates the MFA credential lifecycle. The TOTP secret and
// recovery-code hashes of an enabled credential are stored through the
// vault; the credential row carries only state metadata.
type Manager struct {
	store    credentialStores
	vault    *vault.Vault
	recorder Recorder
	limiter  *verifyLimiter
	logger   *slog.Logger
	issuer   string
	now      func() time.Time
}

type credentialStores interface {
	storage.CredentialStore
	storage.PendingSetupStore
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithIssuer sets the issuer label embedded in enrollment URIs.
func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) { m.issuer = issuer }
}

// WithRecorder sets the verification-attempt audit sink.
func WithRecorder(recorder Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = recorder }
}

// WithClock overrides the time source. Used by tests to pin TOTP windows
// and pending-setup expiry.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over the given stores and vault.
func NewManager(store credentialStores, v *vault.Vault, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		vault:  v,
		logger: slog.Default(),
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.limiter = newVerifyLimiter(m.now)
	return m
}

// InitiateSetup starts enrollment for the owner. Any stale pending
// enrollment is superseded. Fails with ErrAlreadyEnabled if the owner
// already has an enabled credential.
func (m *Manager) InitiateSetup(ctx context.Context, ownerID string) (*Setup, error) {
	cred, err := m.store.GetCredential(ctx, ownerID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if cred != nil && cred.Enabled {
		return nil, ErrAlreadyEnabled
	}

	// Stale pending cleanup is best-effort; the upsert below supersedes
	// the record either way.
	if err := m.store.DeletePendingSetup(ctx, ownerID); err != nil {
		m.logger.Warn("failed to delete stale pending setup", "owner_id", ownerID, "error", err)
	}

	secret, err := generateTOTPSecret()
	if err != nil {
		return nil, fmt.Errorf("generating totp secret: %w", err)
	}
	plaintext, hashed, err := generateRecoveryCodes(recoveryCodeCount)
	if err != nil {
		return nil, err
	}

	expiresAt := m.now().Add(setupTTL)
	pending := &storage.PendingSetup{
		OwnerID:       ownerID,
		Secret:        secret,
		RecoveryCodes: hashed,
		ExpiresAt:     expiresAt,
	}
	if err := m.store.UpsertPendingSetup(ctx, pending); err != nil {
		return nil, fmt.Errorf("persisting pending setup: %w", err)
	}

	return &Setup{
		Secret:        secret,
		RecoveryCodes: plaintext,
		EnrollmentURI: enrollmentURI(m.issuer, ownerID, secret),
		ExpiresAt:     expiresAt,
	}, nil
}

// CompleteSetup verifies code against the pending secret and, on
// success, enables the credential and deletes the pending record. The
// code must be a time-based code derived from the pending secret; a
// merely well-formed code is rejected.
func (m *Manager) CompleteSetup(ctx context.Context, ownerID, code string) error {
	if !validCodeFormat(normalizeCode(code)) {
		return fmt.Errorf("%w: expected %d digits", ErrInvalidCode, totpDigits)
	}

	pending, err := m.store.GetPendingSetup(ctx, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrSetupNotInitiated
		}
		return fmt.Errorf("loading pending setup: %w", err)
	}
	if pending.Expired(m.now()) {
		if err := m.store.DeletePendingSetup(ctx, ownerID); err != nil {
			m.logger.Warn("failed to delete expired pending setup", "owner_id", ownerID, "error", err)
		}
		return ErrSetupNotInitiated
	}

	if !verifyTOTPCode(pending.Secret, code, m.now()) {
		return ErrInvalidCode
	}

	if err := m.vault.StoreSecureKey(ctx, ownerID, vaultKeySecret, pending.Secret); err != nil {
		return fmt.Errorf("storing totp secret: %w", err)
	}
	if err := m.storeRecoveryHashes(ctx, ownerID, pending.RecoveryCodes); err != nil {
		return err
	}

	verifiedAt := m.now()
	cred := &storage.Credential{
		OwnerID:           ownerID,
		Enabled:           true,
		VerifiedAt:        &verifiedAt,
		RecoveryRemaining: len(pending.RecoveryCodes),
	}
	if err := m.store.UpsertCredential(ctx, cred); err != nil {
		return fmt.Errorf("enabling credential: %w", err)
	}

	// Cleanup of the consumed pending record must not fail enrollment.
	if err := m.store.DeletePendingSetup(ctx, ownerID); err != nil {
		m.logger.Warn("failed to delete consumed pending setup", "owner_id", ownerID, "error", err)
	}
	return nil
}

// VerifyLogin checks a per-login TOTP code against the enabled
// credential. A wrong but well-formed code returns (false, nil); the
// attempt is recorded either way. Repeated failures lock the owner out
// with exponential backoff.
func (m *Manager) VerifyLogin(ctx context.Context, ownerID, code string, device storage.DeviceInfo, location storage.Location) (bool, error) {
	if blocked, retryAfter := m.limiter.check(ownerID); blocked {
		return false, fmt.Errorf("%w: retry in %s", ErrRateLimited, retryAfter.Round(time.Second))
	}

	cred, err := m.enabledCredential(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if !validCodeFormat(normalizeCode(code)) {
		return false, fmt.Errorf("%w: expected %d digits", ErrInvalidCode, totpDigits)
	}

	secret, ok, err := m.vault.GetSecureKey(ctx, ownerID, vaultKeySecret)
	if err != nil {
		return false, fmt.Errorf("loading totp secret: %w", err)
	}
	if !ok {
		return false, fmt.Errorf("credential enabled but totp secret missing for owner %s", ownerID)
	}

	if !verifyTOTPCode(secret, code, m.now()) {
		m.limiter.recordFailure(ownerID)
		m.recordAttempt(ctx, ownerID, false, device, location)
		return false, nil
	}

	m.limiter.recordSuccess(ownerID)
	if err := m.touchLastUsed(ctx, cred); err != nil {
		return false, err
	}
	m.recordAttempt(ctx, ownerID, true, device, location)
	return true, nil
}

// UseRecoveryCode consumes a one-time recovery code in place of a TOTP
// code. A matching code is removed from the remaining set.
func (m *Manager) UseRecoveryCode(ctx context.Context, ownerID, code string, device storage.DeviceInfo, location storage.Location) (bool, error) {
	if blocked, retryAfter := m.limiter.check(ownerID); blocked {
		return false, fmt.Errorf("%w: retry in %s", ErrRateLimited, retryAfter.Round(time.Second))
	}

	cred, err := m.enabledCredential(ctx, ownerID)
	if err != nil {
		return false, err
	}

	hashes, err := m.loadRecoveryHashes(ctx, ownerID)
	if err != nil {
		return false, err
	}

	idx := matchRecoveryCode(hashes, code)
	if idx < 0 {
		m.limiter.recordFailure(ownerID)
		m.recordAttempt(ctx, ownerID, false, device, location)
		return false, nil
	}

	remaining := append(append([]string(nil), hashes[:idx]...), hashes[idx+1:]...)
	if err := m.storeRecoveryHashes(ctx, ownerID, remaining); err != nil {
		return false, err
	}
	cred.RecoveryRemaining = len(remaining)
	m.limiter.recordSuccess(ownerID)
	if err := m.touchLastUsed(ctx, cred); err != nil {
		return false, err
	}
	m.recordAttempt(ctx, ownerID, true, device, location)
	return true, nil
}

// Disable clears the credential back to the Unset state: vault secrets
// deleted, timestamps cleared, pending enrollment removed.
func (m *Manager) Disable(ctx context.Context, ownerID string) error {
	if _, err := m.enabledCredential(ctx, ownerID); err != nil {
		return err
	}

	if err := m.vault.DeleteSecureKey(ctx, ownerID, vaultKeySecret); err != nil {
		return fmt.Errorf("deleting totp secret: %w", err)
	}
	if err := m.vault.DeleteSecureKey(ctx, ownerID, vaultKeyRecovery); err != nil {
		return fmt.Errorf("deleting recovery codes: %w", err)
	}

	cred := &storage.Credential{OwnerID: ownerID, Enabled: false}
	if err := m.store.UpsertCredential(ctx, cred); err != nil {
		return fmt.Errorf("disabling credential: %w", err)
	}

	if err := m.store.DeletePendingSetup(ctx, ownerID); err != nil {
		m.logger.Warn("failed to delete lingering pending setup", "owner_id", ownerID, "error", err)
	}
	return nil
}

// Status returns the display projection of the owner's credential. An
// owner with no credential record reports the Unset state.
func (m *Manager) Status(ctx context.Context, ownerID string) (*Status, error) {
	cred, err := m.store.GetCredential(ctx, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &Status{}, nil
		}
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	return &Status{
		Enabled:              cred.Enabled,
		VerifiedAt:           cred.VerifiedAt,
		LastUsedAt:           cred.LastUsedAt,
		RemainingBackupCodes: cred.RecoveryRemaining,
	}, nil
}

// Required reports whether a login for the owner must pass an MFA
// challenge.
func (m *Manager) Required(ctx context.Context, ownerID string) (bool, error) {
	cred, err := m.store.GetCredential(ctx, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading credential: %w", err)
	}
	return cred.Enabled, nil
}

func (m *Manager) enabledCredential(ctx context.Context, ownerID string) (*storage.Credential, error) {
	cred, err := m.store.GetCredential(ctx, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotEnabled
		}
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if !cred.Enabled {
		return nil, ErrNotEnabled
	}
	return cred, nil
}

func (m *Manager) touchLastUsed(ctx context.Context, cred *storage.Credential) error {
	usedAt := m.now()
	cred.LastUsedAt = &usedAt
	if err := m.store.UpsertCredential(ctx, cred); err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	return nil
}

// recordAttempt appends a verification-attempt audit record. Audit
// failures must not abort the verification itself.
func (m *Manager) recordAttempt(ctx context.Context, ownerID string, success bool, device storage.DeviceInfo, location storage.Location) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(ctx, ownerID, success, device, location); err != nil {
		m.logger.Warn("failed to record verification attempt", "owner_id", ownerID, "error", err)
	}
}

func (m *Manager) storeRecoveryHashes(ctx context.Context, ownerID string, hashes []string) error {
	data, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("encoding recovery codes: %w", err)
	}
	if err := m.vault.StoreSecureKey(ctx, ownerID, vaultKeyRecovery, string(data)); err != nil {
		return fmt.Errorf("storing recovery codes: %w", err)
	}
	return nil
}

func (m *Manager) loadRecoveryHashes(ctx context.Context, ownerID string) ([]string, error) {
	raw, ok, err := m.vault.GetSecureKey(ctx, ownerID, vaultKeyRecovery)
	if err != nil {
		return nil, fmt.Errorf("loading recovery codes: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var hashes []string
	if err := json.Unmarshal([]byte(raw), &hashes); err != nil {
		return nil, fmt.Errorf("decoding recovery codes: %w", err)
	}
	return hashes, nil
}
