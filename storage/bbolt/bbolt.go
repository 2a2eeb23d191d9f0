// Package bbolt provides a BBolt-backed implementation of storage.Store.
//
// Records are JSON-encoded under one top-level bucket per record type.
// Sessions and login attempts use a nested per-owner bucket so owner
// scans don't touch other owners' data.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/aegis/storage"
)

var (
	bucketSecrets     = []byte("secrets")
	bucketCredentials = []byte("credentials")
	bucketPending     = []byte("pending_setups")
	bucketSessions    = []byte("sessions")
	bucketAttempts    = []byte("login_attempts")
)

// Store implements storage.Store backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromFile opens a BBolt database at the given path.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func secretKey(ownerID, keyName string) []byte {
	return []byte(ownerID + "\x00" + keyName)
}

func (s *Store) PutSecret(_ context.Context, entry *storage.SecretEntry) error {
	return s.putJSON(bucketSecrets, secretKey(entry.OwnerID, entry.KeyName), entry)
}

func (s *Store) GetSecret(_ context.Context, ownerID, keyName string) (*storage.SecretEntry, error) {
	var entry storage.SecretEntry
	if err := s.getJSON(bucketSecrets, secretKey(ownerID, keyName), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) DeleteSecret(_ context.Context, ownerID, keyName string) error {
	return s.deleteKey(bucketSecrets, secretKey(ownerID, keyName))
}

func (s *Store) UpsertCredential(_ context.Context, cred *storage.Credential) error {
	return s.putJSON(bucketCredentials, []byte(cred.OwnerID), cred)
}

func (s *Store) GetCredential(_ context.Context, ownerID string) (*storage.Credential, error) {
	var cred storage.Credential
	if err := s.getJSON(bucketCredentials, []byte(ownerID), &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *Store) UpsertPendingSetup(_ context.Context, setup *storage.PendingSetup) error {
	return s.putJSON(bucketPending, []byte(setup.OwnerID), setup)
}

func (s *Store) GetPendingSetup(_ context.Context, ownerID string) (*storage.PendingSetup, error) {
	var setup storage.PendingSetup
	if err := s.getJSON(bucketPending, []byte(ownerID), &setup); err != nil {
		return nil, err
	}
	return &setup, nil
}

func (s *Store) DeletePendingSetup(_ context.Context, ownerID string) error {
	return s.deleteKey(bucketPending, []byte(ownerID))
}

func (s *Store) InsertSession(_ context.Context, session *storage.Session) error {
	return s.putOwnerJSON(bucketSessions, session.OwnerID, session.ID, session)
}

func (s *Store) GetSession(_ context.Context, id string) (*storage.Session, error) {
	var found *storage.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		top := tx.Bucket(bucketSessions)
		if top == nil {
			return nil
		}
		return top.ForEachBucket(func(owner []byte) error {
			data := top.Bucket(owner).Get([]byte(id))
			if data == nil {
				return nil
			}
			var session storage.Session
			if err := json.Unmarshal(data, &session); err != nil {
				return err
			}
			found = &session
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return found, nil
}

func (s *Store) ListSessions(_ context.Context, ownerID string, activeOnly bool) ([]*storage.Session, error) {
	var out []*storage.Session
	err := s.forEachOwnerValue(bucketSessions, ownerID, func(data []byte) error {
		var session storage.Session
		if err := json.Unmarshal(data, &session); err != nil {
			return err
		}
		if activeOnly && !session.IsActive {
			return nil
		}
		out = append(out, &session)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateSession(_ context.Context, session *storage.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		top := tx.Bucket(bucketSessions)
		if top == nil {
			return storage.ErrNotFound
		}
		b := top.Bucket([]byte(session.OwnerID))
		if b == nil || b.Get([]byte(session.ID)) == nil {
			return storage.ErrNotFound
		}
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		return b.Put([]byte(session.ID), data)
	})
}

func (s *Store) InsertAttempt(_ context.Context, attempt *storage.LoginAttempt) error {
	return s.putOwnerJSON(bucketAttempts, attempt.OwnerID, attempt.ID, attempt)
}

func (s *Store) ListAttempts(_ context.Context, ownerID string, limit int) ([]*storage.LoginAttempt, error) {
	out, err := s.loadAttempts(ownerID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PruneAttempts(_ context.Context, ownerID string, keep int) (int, error) {
	attempts, err := s.loadAttempts(ownerID)
	if err != nil {
		return 0, err
	}
	if len(attempts) <= keep {
		return 0, nil
	}
	excess := attempts[keep:]
	err = s.db.Update(func(tx *bbolt.Tx) error {
		top := tx.Bucket(bucketAttempts)
		if top == nil {
			return nil
		}
		b := top.Bucket([]byte(ownerID))
		if b == nil {
			return nil
		}
		for _, a := range excess {
			if err := b.Delete([]byte(a.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(excess), nil
}

func (s *Store) loadAttempts(ownerID string) ([]*storage.LoginAttempt, error) {
	var out []*storage.LoginAttempt
	err := s.forEachOwnerValue(bucketAttempts, ownerID, func(data []byte) error {
		var attempt storage.LoginAttempt
		if err := json.Unmarshal(data, &attempt); err != nil {
			return err
		}
		out = append(out, &attempt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// bucket helpers
// ---------------------------------------------------------------------------

func (s *Store) putJSON(bucket, key []byte, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Store) getJSON(bucket, key []byte, v any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return storage.ErrNotFound
		}
		data := b.Get(key)
		if data == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

func (s *Store) deleteKey(bucket, key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
}

func (s *Store) putOwnerJSON(bucket []byte, ownerID, id string, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		top, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		b, err := top.CreateBucketIfNotExists([]byte(ownerID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (s *Store) forEachOwnerValue(bucket []byte, ownerID string, fn func(data []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		top := tx.Bucket(bucket)
		if top == nil {
			return nil
		}
		b := top.Bucket([]byte(ownerID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, data []byte) error {
			return fn(data)
		})
	})
}
