package mfa

import (
	"sync"
	"time"
)

const (
	// maxFailures is the number of consecutive failed verifications
	// before lockout begins.
	maxFailures = 5
	// baseLockout is the initial lockout duration.
	baseLockout = 1 * time.Minute
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before the
	// record is garbage-collected.
	attemptExpiry = 1 * time.Hour
)

// verifyLimiter tracks failed MFA verifications per owner and enforces
// exponential backoff. Login verification otherwise has no lockout of
// its own, so a stolen password plus unlimited code guesses would reduce
// the second factor to a 10^6 search.
type verifyLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	now      func() time.Time
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func newVerifyLimiter(now func() time.Time) *verifyLimiter {
	return &verifyLimiter{
		attempts: make(map[string]*attemptRecord),
		now:      now,
	}
}

// check returns true if the owner is locked out, along with how long the
// caller should wait.
func (rl *verifyLimiter) check(ownerID string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ownerID]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, ownerID)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure increments the failure counter and applies exponential
// backoff once maxFailures is exceeded.
func (rl *verifyLimiter) recordFailure(ownerID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[ownerID]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[ownerID] = rec
	}
	rec.failures++
	rec.lastFailure = rl.now()

	if rec.failures >= maxFailures {
		shift := rec.failures - maxFailures
		lockout := baseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > maxLockout {
				lockout = maxLockout
				break
			}
		}
		rec.lockedUntil = rl.now().Add(lockout)
	}
}

// recordSuccess resets the failure counter.
func (rl *verifyLimiter) recordSuccess(ownerID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, ownerID)
}
