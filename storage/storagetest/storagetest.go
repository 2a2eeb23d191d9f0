// Package storagetest holds the conformance suite every Store backend
// must pass. Backends differ in persistence, not behavior.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/aegis/storage"
)

func testDevice() storage.DeviceInfo {
	return storage.DeviceInfo{Kind: "desktop", Agent: "Firefox", OS: "Linux"}
}

func testLocation() storage.Location {
	return storage.Location{City: "Lisbon", Country: "PT", Timezone: "Europe/Lisbon"}
}

// RunStoreSuite runs the full conformance suite against the store.
func RunStoreSuite(t *testing.T, store storage.Store) {
	t.Helper()
	t.Run("Secrets", func(t *testing.T) { runSecretTests(t, store) })
	t.Run("Credentials", func(t *testing.T) { runCredentialTests(t, store) })
	t.Run("PendingSetups", func(t *testing.T) { runPendingSetupTests(t, store) })
	t.Run("Sessions", func(t *testing.T) { runSessionTests(t, store) })
	t.Run("Attempts", func(t *testing.T) { runAttemptTests(t, store) })
}

func runSecretTests(t *testing.T, store storage.SecretStore) {
	ctx := context.Background()

	t.Run("PutAndGet", func(t *testing.T) {
		entry := &storage.SecretEntry{
			OwnerID:    "owner-1",
			KeyName:    "api-key",
			Ciphertext: []byte{1, 2, 3},
			Nonce:      []byte{4, 5, 6},
		}
		require.NoError(t, store.PutSecret(ctx, entry))

		got, err := store.GetSecret(ctx, "owner-1", "api-key")
		require.NoError(t, err)
		assert.Equal(t, entry.Ciphertext, got.Ciphertext)
		assert.Equal(t, entry.Nonce, got.Nonce)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetSecret(ctx, "owner-1", "no-such-key")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Upsert", func(t *testing.T) {
		first := &storage.SecretEntry{OwnerID: "owner-2", KeyName: "k", Ciphertext: []byte{1}, Nonce: []byte{1}}
		second := &storage.SecretEntry{OwnerID: "owner-2", KeyName: "k", Ciphertext: []byte{2}, Nonce: []byte{2}}
		require.NoError(t, store.PutSecret(ctx, first))
		require.NoError(t, store.PutSecret(ctx, second))

		got, err := store.GetSecret(ctx, "owner-2", "k")
		require.NoError(t, err)
		assert.Equal(t, []byte{2}, got.Ciphertext)
	})

	t.Run("OwnerIsolation", func(t *testing.T) {
		entry := &storage.SecretEntry{OwnerID: "owner-3", KeyName: "shared-name", Ciphertext: []byte{9}, Nonce: []byte{9}}
		require.NoError(t, store.PutSecret(ctx, entry))

		_, err := store.GetSecret(ctx, "owner-4", "shared-name")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		entry := &storage.SecretEntry{OwnerID: "owner-5", KeyName: "k", Ciphertext: []byte{1}, Nonce: []byte{1}}
		require.NoError(t, store.PutSecret(ctx, entry))
		require.NoError(t, store.DeleteSecret(ctx, "owner-5", "k"))
		require.NoError(t, store.DeleteSecret(ctx, "owner-5", "k"))

		_, err := store.GetSecret(ctx, "owner-5", "k")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func runCredentialTests(t *testing.T, store storage.CredentialStore) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetCredential(ctx, "cred-owner-0")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("UpsertAndGet", func(t *testing.T) {
		verifiedAt := time.Now().UTC().Truncate(time.Second)
		cred := &storage.Credential{
			OwnerID:           "cred-owner-1",
			Enabled:           true,
			VerifiedAt:        &verifiedAt,
			RecoveryRemaining: 10,
		}
		require.NoError(t, store.UpsertCredential(ctx, cred))

		got, err := store.GetCredential(ctx, "cred-owner-1")
		require.NoError(t, err)
		assert.True(t, got.Enabled)
		require.NotNil(t, got.VerifiedAt)
		assert.True(t, got.VerifiedAt.Equal(verifiedAt))
		assert.Equal(t, 10, got.RecoveryRemaining)
	})

	t.Run("UpsertReplaces", func(t *testing.T) {
		cred := &storage.Credential{OwnerID: "cred-owner-1", Enabled: false}
		require.NoError(t, store.UpsertCredential(ctx, cred))

		got, err := store.GetCredential(ctx, "cred-owner-1")
		require.NoError(t, err)
		assert.False(t, got.Enabled)
		assert.Nil(t, got.VerifiedAt)
		assert.Zero(t, got.RecoveryRemaining)
	})
}

func runPendingSetupTests(t *testing.T, store storage.PendingSetupStore) {
	ctx := context.Background()

	t.Run("UpsertAndGet", func(t *testing.T) {
		setup := &storage.PendingSetup{
			OwnerID:       "pend-owner-1",
			Secret:        "JBSWY3DPEHPK3PXP",
			RecoveryCodes: []string{"hash-a", "hash-b"},
			ExpiresAt:     time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		}
		require.NoError(t, store.UpsertPendingSetup(ctx, setup))

		got, err := store.GetPendingSetup(ctx, "pend-owner-1")
		require.NoError(t, err)
		assert.Equal(t, setup.Secret, got.Secret)
		assert.Equal(t, setup.RecoveryCodes, got.RecoveryCodes)
	})

	t.Run("SingleSlotPerOwner", func(t *testing.T) {
		replacement := &storage.PendingSetup{
			OwnerID:   "pend-owner-1",
			Secret:    "NEWSECRETNEWSECR",
			ExpiresAt: time.Now().Add(time.Hour).UTC(),
		}
		require.NoError(t, store.UpsertPendingSetup(ctx, replacement))

		got, err := store.GetPendingSetup(ctx, "pend-owner-1")
		require.NoError(t, err)
		assert.Equal(t, "NEWSECRETNEWSECR", got.Secret)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		require.NoError(t, store.DeletePendingSetup(ctx, "pend-owner-1"))
		require.NoError(t, store.DeletePendingSetup(ctx, "pend-owner-1"))

		_, err := store.GetPendingSetup(ctx, "pend-owner-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func runSessionTests(t *testing.T, store storage.SessionStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	insert := func(t *testing.T, id string, offset time.Duration, active bool) *storage.Session {
		t.Helper()
		s := &storage.Session{
			ID:        id,
			OwnerID:   "sess-owner-1",
			Token:     "token-" + id,
			Device:    testDevice(),
			Location:  testLocation(),
			IsActive:  active,
			CreatedAt: base.Add(offset),
		}
		require.NoError(t, store.InsertSession(ctx, s))
		return s
	}

	t.Run("InsertAndGet", func(t *testing.T) {
		want := insert(t, "s1", 0, true)

		got, err := store.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, want.OwnerID, got.OwnerID)
		assert.Equal(t, want.Token, got.Token)
		assert.Equal(t, want.Device, got.Device)
		assert.Equal(t, want.Location, got.Location)
		assert.True(t, got.IsActive)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetSession(ctx, "no-such-session")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListOrderedAndFiltered", func(t *testing.T) {
		insert(t, "s2", 1*time.Minute, true)
		insert(t, "s3", 2*time.Minute, true)
		insert(t, "s4", 3*time.Minute, false)

		active, err := store.ListSessions(ctx, "sess-owner-1", true)
		require.NoError(t, err)
		require.Len(t, active, 3)
		assert.Equal(t, "s3", active[0].ID, "most recent first")
		assert.Equal(t, "s2", active[1].ID)
		assert.Equal(t, "s1", active[2].ID)

		all, err := store.ListSessions(ctx, "sess-owner-1", false)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("Update", func(t *testing.T) {
		got, err := store.GetSession(ctx, "s1")
		require.NoError(t, err)

		endedAt := base.Add(10 * time.Minute)
		got.IsActive = false
		got.EndedAt = &endedAt
		require.NoError(t, store.UpdateSession(ctx, got))

		updated, err := store.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.False(t, updated.IsActive)
		require.NotNil(t, updated.EndedAt)
		assert.True(t, updated.EndedAt.Equal(endedAt))
	})

	t.Run("ListUnknownOwnerEmpty", func(t *testing.T) {
		sessions, err := store.ListSessions(ctx, "sess-owner-none", true)
		require.NoError(t, err)
		assert.Empty(t, sessions)
	})
}

func runAttemptTests(t *testing.T, store storage.AttemptStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	insert := func(t *testing.T, id string, offset time.Duration, success bool) {
		t.Helper()
		attempt := &storage.LoginAttempt{
			ID:        id,
			OwnerID:   "att-owner-1",
			Success:   success,
			Device:    testDevice(),
			Location:  testLocation(),
			CreatedAt: base.Add(offset),
		}
		require.NoError(t, store.InsertAttempt(ctx, attempt))
	}

	t.Run("InsertAndList", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			insert(t, fmt.Sprintf("a%d", i), time.Duration(i)*time.Minute, i%2 == 0)
		}

		attempts, err := store.ListAttempts(ctx, "att-owner-1", 0)
		require.NoError(t, err)
		require.Len(t, attempts, 5)
		assert.Equal(t, "a4", attempts[0].ID, "most recent first")
		assert.Equal(t, "a0", attempts[4].ID)
		assert.Equal(t, testDevice(), attempts[0].Device)
		assert.Equal(t, testLocation(), attempts[0].Location)
	})

	t.Run("ListCapped", func(t *testing.T) {
		attempts, err := store.ListAttempts(ctx, "att-owner-1", 2)
		require.NoError(t, err)
		require.Len(t, attempts, 2)
		assert.Equal(t, "a4", attempts[0].ID)
		assert.Equal(t, "a3", attempts[1].ID)
	})

	t.Run("Prune", func(t *testing.T) {
		pruned, err := store.PruneAttempts(ctx, "att-owner-1", 3)
		require.NoError(t, err)
		assert.Equal(t, 2, pruned)

		attempts, err := store.ListAttempts(ctx, "att-owner-1", 0)
		require.NoError(t, err)
		require.Len(t, attempts, 3)
		assert.Equal(t, "a4", attempts[0].ID, "pruning keeps the most recent")
	})

	t.Run("PruneUnderCap", func(t *testing.T) {
		pruned, err := store.PruneAttempts(ctx, "att-owner-1", 50)
		require.NoError(t, err)
		assert.Zero(t, pruned)
	})
}
