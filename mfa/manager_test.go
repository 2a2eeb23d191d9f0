package mfa

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/aegis/storage"
	"github.com/jmcleod/aegis/storage/memory"
	"github.com/jmcleod/aegis/vault"
)

type recordedAttempt struct {
	ownerID string
	success bool
}

type fakeRecorder struct {
	attempts []recordedAttempt
}

func (r *fakeRecorder) Record(_ context.Context, ownerID string, success bool, _ storage.DeviceInfo, _ storage.Location) error {
	r.attempts = append(r.attempts, recordedAttempt{ownerID: ownerID, success: success})
	return nil
}

type managerFixture struct {
	manager  *Manager
	store    *memory.Store
	vault    *vault.Vault
	recorder *fakeRecorder
	now      time.Time
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	store := memory.NewStore()
	v, err := vault.New(store)
	require.NoError(t, err)

	f := &managerFixture{
		store:    store,
		vault:    v,
		recorder: &fakeRecorder{},
		now:      time.Unix(1_700_000_000, 0),
	}
	f.manager = NewManager(store, v,
		WithRecorder(f.recorder),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

// enable walks an owner through the full enrollment.
func (f *managerFixture) enable(t *testing.T, ownerID string) *Setup {
	t.Helper()
	setup, err := f.manager.InitiateSetup(context.Background(), ownerID)
	require.NoError(t, err)

	code, err := totpCodeAt(setup.Secret, f.now)
	require.NoError(t, err)
	require.NoError(t, f.manager.CompleteSetup(context.Background(), ownerID, code))
	return setup
}

// wrongCode returns a well-formed code that does not verify at f.now.
func (f *managerFixture) wrongCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totpCodeAt(secret, f.now)
	require.NoError(t, err)
	if code[0] == '9' {
		return "0" + code[1:]
	}
	return "9" + code[1:]
}

func TestManager_InitiateSetup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup, err := f.manager.InitiateSetup(ctx, "owner-1")
	require.NoError(t, err)

	assert.Len(t, setup.Secret, 32)
	assert.Len(t, setup.RecoveryCodes, recoveryCodeCount)
	assert.Contains(t, setup.EnrollmentURI, "otpauth://totp/")
	assert.Equal(t, f.now.Add(setupTTL), setup.ExpiresAt)

	// Not enabled until a code is verified.
	status, err := f.manager.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)

	// The pending record holds hashes, never the plaintext codes.
	pending, err := f.store.GetPendingSetup(ctx, "owner-1")
	require.NoError(t, err)
	for i, code := range setup.RecoveryCodes {
		assert.NotEqual(t, code, pending.RecoveryCodes[i])
		assert.Equal(t, hashRecoveryCode(code), pending.RecoveryCodes[i])
	}
}

func TestManager_InitiateSetup_SupersedesPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.InitiateSetup(ctx, "owner-1")
	require.NoError(t, err)
	second, err := f.manager.InitiateSetup(ctx, "owner-1")
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	// Only the latest secret completes.
	staleCode, err := totpCodeAt(first.Secret, f.now)
	require.NoError(t, err)
	err = f.manager.CompleteSetup(ctx, "owner-1", staleCode)
	if err == nil {
		// The two secrets can collide on a code only by chance; rule it out.
		freshCode, codeErr := totpCodeAt(second.Secret, f.now)
		require.NoError(t, codeErr)
		require.Equal(t, freshCode, staleCode)
		return
	}
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestManager_CompleteSetup_Enables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable(t, "owner-1")

	status, err := f.manager.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	require.NotNil(t, status.VerifiedAt)
	assert.True(t, status.VerifiedAt.Equal(f.now))
	assert.Equal(t, recoveryCodeCount, status.RemainingBackupCodes)

	// Secret lives in the vault, pending record is gone.
	secret, found, err := f.vault.GetSecureKey(ctx, "owner-1", vaultKeySecret)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, setup.Secret, secret)

	_, err = f.store.GetPendingSetup(ctx, "owner-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_CompleteSetup_RejectsWrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup, err := f.manager.InitiateSetup(ctx, "owner-1")
	require.NoError(t, err)

	// A well-formed code that was not derived from the pending secret
	// must not enable the credential.
	err = f.manager.CompleteSetup(ctx, "owner-1", f.wrongCode(t, setup.Secret))
	assert.ErrorIs(t, err, ErrInvalidCode)

	status, err := f.manager.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
}

func TestManager_CompleteSetup_MalformedCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.InitiateSetup(ctx, "owner-1")
	require.NoError(t, err)

	for _, code := range []string{"", "12345", "abcdef"} {
		assert.ErrorIs(t, f.manager.CompleteSetup(ctx, "owner-1", code), ErrInvalidCode, "code %q", code)
	}
}

func TestManager_CompleteSetup_NotInitiated(t *testing.T) {
	f := newFixture(t)
	err := f.manager.CompleteSetup(context.Background(), "owner-1", "123456")
	assert.ErrorIs(t, err, ErrSetupNotInitiated)
}

func TestManager_CompleteSetup_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	setup, err := f.manager.InitiateSetup(ctx, "owner-1")
	require.NoError(t, err)

	f.now = f.now.Add(setupTTL + time.Minute)
	code, err := totpCodeAt(setup.Secret, f.now)
	require.NoError(t, err)

	err = f.manager.CompleteSetup(ctx, "owner-1", code)
	assert.ErrorIs(t, err, ErrSetupNotInitiated)

	// The expired record is cleaned up on the way out.
	_, err = f.store.GetPendingSetup(ctx, "owner-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestManager_InitiateSetup_AlreadyEnabled(t *testing.T) {
	f := newFixture(t)
	f.enable(t, "owner-1")

	_, err := f.manager.InitiateSetup(context.Background(), "owner-1")
	assert.ErrorIs(t, err, ErrAlreadyEnabled)
}

func TestManager_VerifyLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable(t, "owner-1")
	f.recorder.attempts = nil

	f.now = f.now.Add(5 * time.Minute)
	code, err := totpCodeAt(setup.Secret, f.now)
	require.NoError(t, err)

	ok, err := f.manager.VerifyLogin(ctx, "owner-1", code, storage.DeviceInfo{}, storage.Location{})
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := f.manager.Status(ctx, "owner-1")
	require.NoError(t, err)
	require.NotNil(t, status.LastUsedAt)
	assert.True(t, status.LastUsedAt.Equal(f.now))

	require.Len(t, f.recorder.attempts, 1)
	assert.Equal(t, recordedAttempt{ownerID: "owner-1", success: true}, f.recorder.attempts[0])
}

func TestManager_VerifyLogin_WrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable(t, "owner-1")
	f.recorder.attempts = nil

	ok, err := f.manager.VerifyLogin(ctx, "owner-1", f.wrongCode(t, setup.Secret), storage.DeviceInfo{}, storage.Location{})
	require.NoError(t, err, "a wrong code is a negative result, not an error")
	assert.False(t, ok)

	require.Len(t, f.recorder.attempts, 1)
	assert.False(t, f.recorder.attempts[0].success)
}

func TestManager_VerifyLogin_NotEnabled(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.VerifyLogin(context.Background(), "owner-1", "123456", storage.DeviceInfo{}, storage.Location{})
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func TestManager_VerifyLogin_RateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable(t, "owner-1")
	wrong := f.wrongCode(t, setup.Secret)

	for i := 0; i < maxFailures; i++ {
		ok, err := f.manager.VerifyLogin(ctx, "owner-1", wrong, storage.DeviceInfo{}, storage.Location{})
		require.NoError(t, err)
		require.False(t, ok)
	}

	_, err := f.manager.VerifyLogin(ctx, "owner-1", wrong, storage.DeviceInfo{}, storage.Location{})
	assert.ErrorIs(t, err, ErrRateLimited)

	// The lockout passes and a valid code gets through again.
	f.now = f.now.Add(baseLockout + time.Second)
	code, err := totpCodeAt(setup.Secret, f.now)
	require.NoError(t, err)
	ok, err := f.manager.VerifyLogin(ctx, "owner-1", code, storage.DeviceInfo{}, storage.Location{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_UseRecoveryCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	setup := f.enable(t, "owner-1")
	f.recorder.attempts = nil

	ok, err := f.manager.UseRecoveryCode(ctx, "owner-1", setup.RecoveryCodes[3], storage.DeviceInfo{}, storage.Location{})
	require.NoError(t, err)
	assert.True(t, ok)

	status, err := f.manager.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, recoveryCodeCount-1, status.RemainingBackupCodes)

	// Single use: the same code must not work twice.
	ok, err = f.manager.UseRecoveryCode(ctx, "owner-1", setup.RecoveryCodes[3], storage.DeviceInfo{}, storage.Location{})
	require.NoError(t, err)
	assert.False(t, ok)

	// A different remaining code still works.
	ok, err = f.manager.UseRecoveryCode(ctx, "owner-1", setup.RecoveryCodes[4], storage.DeviceInfo{}, storage.Location{})
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, f.recorder.attempts, 3)
	assert.True(t, f.recorder.attempts[0].success)
	assert.False(t, f.recorder.attempts[1].success)
	assert.True(t, f.recorder.attempts[2].success)
}

func TestManager_Disable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t, "owner-1")

	require.NoError(t, f.manager.Disable(ctx, "owner-1"))

	status, err := f.manager.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.Nil(t, status.VerifiedAt)
	assert.Zero(t, status.RemainingBackupCodes)

	// Vault secrets are gone.
	_, found, err := f.vault.GetSecureKey(ctx, "owner-1", vaultKeySecret)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = f.vault.GetSecureKey(ctx, "owner-1", vaultKeyRecovery)
	require.NoError(t, err)
	assert.False(t, found)

	// Disabling twice is a state error.
	assert.ErrorIs(t, f.manager.Disable(ctx, "owner-1"), ErrNotEnabled)
}

func TestManager_ReenrollAfterDisable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enable(t, "owner-1")
	require.NoError(t, f.manager.Disable(ctx, "owner-1"))

	f.enable(t, "owner-1")
	status, err := f.manager.Status(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, recoveryCodeCount, status.RemainingBackupCodes)
}

func TestManager_Status_UnknownOwner(t *testing.T) {
	f := newFixture(t)

	status, err := f.manager.Status(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Equal(t, &Status{}, status)
}

func TestManager_Required(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	required, err := f.manager.Required(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, required)

	f.enable(t, "owner-1")

	required, err = f.manager.Required(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, required)
}
