// Package vault implements the encrypted secret vault. Small secret
// values are sealed with AES-256-GCM under a per-installation master key
// before they cross the trust boundary into persistent storage.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/aegis/internal/util"
	"github.com/jmcleod/aegis/storage"
)

var (
	// masterKeySalt and masterKeyInfo pin the master-key derivation so a
	// configured passphrase derives the same key across restarts.
	masterKeySalt = []byte("aegis:vault:argon2:v1")
	masterKeyInfo = []byte("aegis:vault:key:v1")
)

// Vault encrypts and decrypts secret values. The master key is held in a
// memguard Enclave and opened per operation; encrypt/decrypt are
// stateless and safe to call concurrently.
type Vault struct {
	store  storage.SecretStore
	key    *memguard.Enclave
	logger *slog.Logger

	// local is the process-scoped fallback store for callers with no
	// resolvable owner. It is never persisted and never shared across
	// owners.
	localMu sync.Mutex
	local   map[string]*storage.SecretEntry
}

// Option configures a Vault.
type Option func(*vaultConfig)

type vaultConfig struct {
	passphrase string
	logger     *slog.Logger
}

// WithPassphrase derives the master key from the configured secret.
// Without it, a random key is generated for the process lifetime and a
// warning is logged: values stored under a generated key are
// unrecoverable after restart.
func WithPassphrase(passphrase string) Option {
	return func(c *vaultConfig) {
		c.passphrase = passphrase
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *vaultConfig) {
		c.logger = logger
	}
}

// New creates a Vault over the given secret store.
func New(store storage.SecretStore, opts ...Option) (*Vault, error) {
	cfg := vaultConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	var raw []byte
	var err error
	if cfg.passphrase != "" {
		raw, err = util.DeriveArgon2idKey(cfg.passphrase, masterKeySalt, util.DefaultArgon2idParams())
		if err != nil {
			return nil, fmt.Errorf("deriving vault master key: %w", err)
		}
		raw, err = util.HKDF(raw, nil, masterKeyInfo)
		if err != nil {
			return nil, fmt.Errorf("expanding vault master key: %w", err)
		}
	} else {
		raw, err = util.NewAESKey()
		if err != nil {
			return nil, fmt.Errorf("generating vault master key: %w", err)
		}
		cfg.logger.Warn("no vault key configured; using an ephemeral process key",
			"detail", "secrets stored under this key are unrecoverable after restart")
	}

	// NewEnclave wipes raw after sealing it.
	return &Vault{
		store:  store,
		key:    memguard.NewEnclave(raw),
		logger: cfg.logger,
		local:  make(map[string]*storage.SecretEntry),
	}, nil
}

func aad(ownerID, keyName string) []byte {
	return []byte(ownerID + "\x00" + keyName)
}

// StoreSecureKey encrypts plaintext and upserts it under
// (ownerID, keyName). An empty plaintext is rejected with ErrEmptyValue.
// An empty ownerID routes to the process-local fallback store.
func (v *Vault) StoreSecureKey(ctx context.Context, ownerID, keyName, plaintext string) error {
	if keyName == "" {
		return ErrEmptyKeyName
	}
	if plaintext == "" {
		return ErrEmptyValue
	}

	sealed, err := v.seal([]byte(plaintext), aad(ownerID, keyName))
	if err != nil {
		return err
	}
	entry := &storage.SecretEntry{
		OwnerID:    ownerID,
		KeyName:    keyName,
		Nonce:      sealed[:util.NonceSize],
		Ciphertext: sealed[util.NonceSize:],
	}

	if ownerID == "" {
		v.localMu.Lock()
		v.local[keyName] = entry
		v.localMu.Unlock()
		return nil
	}
	if err := v.store.PutSecret(ctx, entry); err != nil {
		return fmt.Errorf("persisting secret %q: %w", keyName, err)
	}
	return nil
}

// GetSecureKey decrypts and returns the value stored under
// (ownerID, keyName). The second return is false when no entry exists.
// A failed authentication check returns ErrDecryptFailed and must not be
// treated as absence.
func (v *Vault) GetSecureKey(ctx context.Context, ownerID, keyName string) (string, bool, error) {
	var entry *storage.SecretEntry
	if ownerID == "" {
		v.localMu.Lock()
		entry = v.local[keyName]
		v.localMu.Unlock()
		if entry == nil {
			return "", false, nil
		}
	} else {
		var err error
		entry, err = v.store.GetSecret(ctx, ownerID, keyName)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("loading secret %q: %w", keyName, err)
		}
	}

	sealed := make([]byte, 0, len(entry.Nonce)+len(entry.Ciphertext))
	sealed = append(sealed, entry.Nonce...)
	sealed = append(sealed, entry.Ciphertext...)

	plaintext, err := v.open(sealed, aad(ownerID, keyName))
	if err != nil {
		return "", false, fmt.Errorf("%w: %q", ErrDecryptFailed, keyName)
	}
	defer util.WipeBytes(plaintext)
	return string(plaintext), true, nil
}

// DeleteSecureKey removes the entry under (ownerID, keyName). Deleting
// an absent entry is not an error.
func (v *Vault) DeleteSecureKey(ctx context.Context, ownerID, keyName string) error {
	if ownerID == "" {
		v.localMu.Lock()
		delete(v.local, keyName)
		v.localMu.Unlock()
		return nil
	}
	if err := v.store.DeleteSecret(ctx, ownerID, keyName); err != nil {
		return fmt.Errorf("deleting secret %q: %w", keyName, err)
	}
	return nil
}

func (v *Vault) seal(plaintext, aad []byte) ([]byte, error) {
	buf, err := v.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening master key enclave: %w", err)
	}
	defer buf.Destroy()
	return util.SealAESGCM(plaintext, buf.Bytes(), aad)
}

func (v *Vault) open(sealed, aad []byte) ([]byte, error) {
	buf, err := v.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening master key enclave: %w", err)
	}
	defer buf.Destroy()
	return util.OpenAESGCM(sealed, buf.Bytes(), aad)
}
