package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/aegis/storage/memory"
)

func TestLedger_Record(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Unix(1_700_000_000, 0)
	ledger := NewLedger(store, WithLedgerClock(func() time.Time { return now }))

	require.NoError(t, ledger.Record(ctx, "owner-1", true, testDevice(), testLocation()))
	require.NoError(t, ledger.Record(ctx, "owner-1", false, testDevice(), testLocation()))

	attempts, err := store.ListAttempts(ctx, "owner-1", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, testDevice(), attempts[0].Device)
	assert.Equal(t, testLocation(), attempts[0].Location)
	assert.True(t, attempts[0].CreatedAt.Equal(now.UTC()))
}

func TestLedger_ListCapsAndPrunes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	now := time.Unix(1_700_000_000, 0)
	ledger := NewLedger(store, WithLedgerClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	total := DefaultMaxHistory + 20
	for i := 0; i < total; i++ {
		require.NoError(t, ledger.Record(ctx, "owner-1", i%3 != 0, testDevice(), testLocation()))
	}

	attempts, err := ledger.List(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, attempts, DefaultMaxHistory)

	// Most recent first, and the overflow is physically gone after List.
	for i := 1; i < len(attempts); i++ {
		assert.False(t, attempts[i].CreatedAt.After(attempts[i-1].CreatedAt))
	}
	remaining, err := store.ListAttempts(ctx, "owner-1", 0)
	require.NoError(t, err)
	assert.Len(t, remaining, DefaultMaxHistory)
}

func TestLedger_ListUnderCap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewLedger(store)

	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.Record(ctx, "owner-1", true, testDevice(), testLocation()))
	}

	attempts, err := ledger.List(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, attempts, 5)
}

func TestLedger_CustomCap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	now := time.Unix(1_700_000_000, 0)
	ledger := NewLedger(store,
		WithMaxHistory(5),
		WithLedgerClock(func() time.Time {
			now = now.Add(time.Second)
			return now
		}))

	for i := 0; i < 12; i++ {
		require.NoError(t, ledger.Record(ctx, "owner-1", true, testDevice(), testLocation()))
	}

	attempts, err := ledger.List(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, attempts, 5)
}

func TestLedger_OwnersIndependent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewLedger(store)

	require.NoError(t, ledger.Record(ctx, "owner-1", true, testDevice(), testLocation()))

	attempts, err := ledger.List(ctx, "owner-2")
	require.NoError(t, err)
	assert.Empty(t, attempts)
}
