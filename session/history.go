package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/aegis/internal/uuid"
	"github.com/jmcleod/aegis/storage"
)

// DefaultMaxHistory is the per-owner retention cap on login attempts.
const DefaultMaxHistory = 50

// Ledger is the append-only record of authentication attempts with
// bounded retention. Pruning is lazy: reads cap the result and delete
// the overflow best-effort, so successful logins never pay for a prune
// write.
type Ledger struct {
	store      storage.AttemptStore
	maxHistory int
	logger     *slog.Logger
	now        func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithMaxHistory overrides the retention cap.
func WithMaxHistory(n int) LedgerOption {
	return func(l *Ledger) { l.maxHistory = n }
}

// WithLedgerLogger sets the structured logger.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// WithLedgerClock overrides the time source.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger over the given attempt store.
func NewLedger(store storage.AttemptStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:      store,
		maxHistory: DefaultMaxHistory,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an authentication attempt.
func (l *Ledger) Record(ctx context.Context, ownerID string, success bool, device storage.DeviceInfo, location storage.Location) error {
	attempt := &storage.LoginAttempt{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Success:   success,
		Device:    device,
		Location:  location,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.InsertAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("recording login attempt: %w", err)
	}
	return nil
}

// List returns the owner's attempts, most recent first, capped to the
// retention limit. Records beyond the cap are deleted best-effort after
// the read.
func (l *Ledger) List(ctx context.Context, ownerID string) ([]*storage.LoginAttempt, error) {
	attempts, err := l.store.ListAttempts(ctx, ownerID, l.maxHistory)
	if err != nil {
		return nil, fmt.Errorf("listing login attempts: %w", err)
	}

	if pruned, err := l.store.PruneAttempts(ctx, ownerID, l.maxHistory); err != nil {
		l.logger.Warn("failed to prune login history", "owner_id", ownerID, "error", err)
	} else if pruned > 0 {
		l.logger.Debug("pruned login history", "owner_id", ownerID, "pruned", pruned)
	}
	return attempts, nil
}
