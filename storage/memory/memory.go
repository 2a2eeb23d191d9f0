// Package memory provides a thread-safe in-memory implementation of
// storage.Store. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jmcleod/aegis/internal/util"
	"github.com/jmcleod/aegis/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
type Store struct {
	mu          sync.RWMutex
	secrets     map[string]*storage.SecretEntry // owner\x00key
	credentials map[string]*storage.Credential  // owner
	pending     map[string]*storage.PendingSetup
	sessions    map[string]*storage.Session // session ID
	attempts    map[string][]*storage.LoginAttempt
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{
		secrets:     make(map[string]*storage.SecretEntry),
		credentials: make(map[string]*storage.Credential),
		pending:     make(map[string]*storage.PendingSetup),
		sessions:    make(map[string]*storage.Session),
		attempts:    make(map[string][]*storage.LoginAttempt),
	}
}

func secretKey(ownerID, keyName string) string {
	return ownerID + "\x00" + keyName
}

func (s *Store) PutSecret(_ context.Context, entry *storage.SecretEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	cp.Ciphertext = util.CopyBytes(entry.Ciphertext)
	cp.Nonce = util.CopyBytes(entry.Nonce)
	s.secrets[secretKey(entry.OwnerID, entry.KeyName)] = &cp
	return nil
}

func (s *Store) GetSecret(_ context.Context, ownerID, keyName string) (*storage.SecretEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.secrets[secretKey(ownerID, keyName)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *entry
	cp.Ciphertext = util.CopyBytes(entry.Ciphertext)
	cp.Nonce = util.CopyBytes(entry.Nonce)
	return &cp, nil
}

func (s *Store) DeleteSecret(_ context.Context, ownerID, keyName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, secretKey(ownerID, keyName))
	return nil
}

func (s *Store) UpsertCredential(_ context.Context, cred *storage.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cred
	s.credentials[cred.OwnerID] = &cp
	return nil
}

func (s *Store) GetCredential(_ context.Context, ownerID string) (*storage.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[ownerID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (s *Store) UpsertPendingSetup(_ context.Context, setup *storage.PendingSetup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *setup
	cp.RecoveryCodes = append([]string(nil), setup.RecoveryCodes...)
	s.pending[setup.OwnerID] = &cp
	return nil
}

func (s *Store) GetPendingSetup(_ context.Context, ownerID string) (*storage.PendingSetup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	setup, ok := s.pending[ownerID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *setup
	cp.RecoveryCodes = append([]string(nil), setup.RecoveryCodes...)
	return &cp, nil
}

func (s *Store) DeletePendingSetup(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, ownerID)
	return nil
}

func (s *Store) InsertSession(_ context.Context, session *storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *Store) ListSessions(_ context.Context, ownerID string, activeOnly bool) ([]*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Session
	for _, session := range s.sessions {
		if session.OwnerID != ownerID {
			continue
		}
		if activeOnly && !session.IsActive {
			continue
		}
		cp := *session
		out = append(out, &cp)
	}
	sortSessionsDesc(out)
	return out, nil
}

func (s *Store) UpdateSession(_ context.Context, session *storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *Store) InsertAttempt(_ context.Context, attempt *storage.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *attempt
	s.attempts[attempt.OwnerID] = append(s.attempts[attempt.OwnerID], &cp)
	return nil
}

func (s *Store) ListAttempts(_ context.Context, ownerID string, limit int) ([]*storage.LoginAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts := s.attempts[ownerID]
	out := make([]*storage.LoginAttempt, 0, len(attempts))
	for _, a := range attempts {
		cp := *a
		out = append(out, &cp)
	}
	sortAttemptsDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PruneAttempts(_ context.Context, ownerID string, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempts := s.attempts[ownerID]
	if len(attempts) <= keep {
		return 0, nil
	}
	sortAttemptsDesc(attempts)
	pruned := len(attempts) - keep
	s.attempts[ownerID] = attempts[:keep]
	return pruned, nil
}

func sortSessionsDesc(sessions []*storage.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

func sortAttemptsDesc(attempts []*storage.LoginAttempt) {
	sort.Slice(attempts, func(i, j int) bool {
		if attempts[i].CreatedAt.Equal(attempts[j].CreatedAt) {
			return attempts[i].ID > attempts[j].ID
		}
		return attempts[i].CreatedAt.After(attempts[j].CreatedAt)
	})
}
