package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/aegis/storage"
	"github.com/jmcleod/aegis/storage/memory"
)

func newTestRegistry(opts ...RegistryOption) (*Registry, *memory.Store) {
	store := memory.NewStore()
	return NewRegistry(store, opts...), store
}

func testDevice() storage.DeviceInfo {
	return storage.DeviceInfo{Kind: "desktop", Agent: "Firefox", OS: "Linux"}
}

func testLocation() storage.Location {
	return storage.Location{City: "Lisbon", Country: "PT", Timezone: "Europe/Lisbon"}
}

func TestRegistry_Create(t *testing.T) {
	ctx := context.Background()
	registry, store := newTestRegistry()

	sess, err := registry.Create(ctx, "owner-1", testDevice(), testLocation())
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.Token)
	assert.NotEqual(t, sess.ID, sess.Token)
	assert.True(t, sess.IsActive)
	assert.Equal(t, testDevice(), sess.Device)

	stored, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, stored.Token)
}

func TestRegistry_CapEnforcedOnCreate(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry()

	var first *storage.Session
	for i := 0; i < DefaultMaxSessions+3; i++ {
		sess, err := registry.Create(ctx, "owner-1", testDevice(), testLocation())
		require.NoError(t, err)
		if i == 0 {
			first = sess
		}
		// Distinct creation instants keep the ordering deterministic.
		time.Sleep(time.Millisecond)
	}

	active, err := registry.ListActive(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, active, DefaultMaxSessions, "cap must hold after convergence")

	// The oldest sessions are the ones terminated.
	for _, s := range active {
		assert.NotEqual(t, first.ID, s.ID)
	}
}

func TestRegistry_CapConvergesOnList(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	registry := NewRegistry(store, WithMaxSessions(3))

	// Seed over-cap state directly, as if concurrent creates raced past
	// the cap.
	base := time.Now().UTC()
	for i := 0; i < 6; i++ {
		require.NoError(t, store.InsertSession(ctx, &storage.Session{
			ID:        fmt.Sprintf("s%d", i),
			OwnerID:   "owner-1",
			Token:     fmt.Sprintf("t%d", i),
			IsActive:  true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	active, err := registry.ListActive(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "s5", active[0].ID)
	assert.Equal(t, "s3", active[2].ID)

	// Terminated, not deleted.
	oldest, err := store.GetSession(ctx, "s0")
	require.NoError(t, err)
	assert.False(t, oldest.IsActive)
	assert.NotNil(t, oldest.EndedAt)
}

func TestRegistry_CustomCap(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(WithMaxSessions(2))

	for i := 0; i < 4; i++ {
		_, err := registry.Create(ctx, "owner-1", testDevice(), testLocation())
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	active, err := registry.ListActive(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRegistry_Terminate(t *testing.T) {
	ctx := context.Background()
	registry, store := newTestRegistry()

	sess, err := registry.Create(ctx, "owner-1", testDevice(), testLocation())
	require.NoError(t, err)

	require.NoError(t, registry.Terminate(ctx, sess.ID))

	stored, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	require.NotNil(t, stored.EndedAt)

	// Idempotent: again on the same session, and on one that never existed.
	endedAt := *stored.EndedAt
	require.NoError(t, registry.Terminate(ctx, sess.ID))
	require.NoError(t, registry.Terminate(ctx, "no-such-session"))

	stored, err = store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.EndedAt.Equal(endedAt), "repeat termination must not restamp ended_at")
}

func TestRegistry_TerminateOthers(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry()

	var keep *storage.Session
	for i := 0; i < 4; i++ {
		sess, err := registry.Create(ctx, "owner-1", testDevice(), testLocation())
		require.NoError(t, err)
		if i == 2 {
			keep = sess
		}
	}
	// Another owner's sessions are untouched.
	other, err := registry.Create(ctx, "owner-2", testDevice(), testLocation())
	require.NoError(t, err)

	terminated, err := registry.TerminateOthers(ctx, "owner-1", keep.Token)
	require.NoError(t, err)
	assert.Equal(t, 3, terminated)

	active, err := registry.ListActive(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)

	otherActive, err := registry.ListActive(ctx, "owner-2")
	require.NoError(t, err)
	require.Len(t, otherActive, 1)
	assert.Equal(t, other.ID, otherActive[0].ID)
}

func TestRegistry_Current(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry()

	sess, err := registry.Create(ctx, "owner-1", testDevice(), testLocation())
	require.NoError(t, err)

	current, err := registry.Current(ctx, "owner-1", sess.Token)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, sess.ID, current.ID)

	// Unknown token, and a token whose session was terminated.
	current, err = registry.Current(ctx, "owner-1", "bogus-token")
	require.NoError(t, err)
	assert.Nil(t, current)

	require.NoError(t, registry.Terminate(ctx, sess.ID))
	current, err = registry.Current(ctx, "owner-1", sess.Token)
	require.NoError(t, err)
	assert.Nil(t, current)
}
