// Package postgres implements storage.Store backed by PostgreSQL.
//
// The schema mirrors the key space of the memory and bbolt backends:
// secrets use a composite primary key (owner_id, key_name), credential
// and pending-setup rows are unique per owner, sessions and login
// attempts are keyed by UUID. Upserts use ON CONFLICT so the store-layer
// uniqueness constraints are the authoritative backstop for the
// single-pending-setup and single-credential invariants.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jmcleod/aegis/storage"
)

const (
	maxOpenConns    = 25
	maxIdleConns    = 25
	connMaxLifetime = 5 * time.Minute
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromDSN connects to PostgreSQL, ensures the schema exists, and
// returns a new Store.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS secrets (
	owner_id   TEXT  NOT NULL,
	key_name   TEXT  NOT NULL,
	ciphertext BYTEA NOT NULL,
	nonce      BYTEA NOT NULL,
	PRIMARY KEY (owner_id, key_name)
);

CREATE TABLE IF NOT EXISTS mfa_credentials (
	owner_id           TEXT PRIMARY KEY,
	enabled            BOOLEAN NOT NULL DEFAULT FALSE,
	verified_at        TIMESTAMPTZ,
	last_used_at       TIMESTAMPTZ,
	recovery_remaining INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pending_mfa_setups (
	owner_id       TEXT PRIMARY KEY,
	secret         TEXT NOT NULL,
	recovery_codes TEXT[] NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	session_token TEXT NOT NULL,
	kind          TEXT NOT NULL DEFAULT '',
	agent_name    TEXT NOT NULL DEFAULT '',
	os_name       TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	country       TEXT NOT NULL DEFAULT '',
	timezone      TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sessions_owner_active_idx
	ON sessions (owner_id, is_active, created_at DESC);

CREATE TABLE IF NOT EXISTS login_attempts (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	success    BOOLEAN NOT NULL,
	kind       TEXT NOT NULL DEFAULT '',
	agent_name TEXT NOT NULL DEFAULT '',
	os_name    TEXT NOT NULL DEFAULT '',
	city       TEXT NOT NULL DEFAULT '',
	country    TEXT NOT NULL DEFAULT '',
	timezone   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS login_attempts_owner_idx
	ON login_attempts (owner_id, created_at DESC);`

	_, err := db.ExecContext(ctx, schema)
	return err
}

func (s *Store) PutSecret(ctx context.Context, entry *storage.SecretEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (owner_id, key_name, ciphertext, nonce)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id, key_name)
		 DO UPDATE SET ciphertext = $3, nonce = $4`,
		entry.OwnerID, entry.KeyName, entry.Ciphertext, entry.Nonce)
	return err
}

func (s *Store) GetSecret(ctx context.Context, ownerID, keyName string) (*storage.SecretEntry, error) {
	var entry storage.SecretEntry
	err := s.db.GetContext(ctx, &entry,
		`SELECT owner_id, key_name, ciphertext, nonce
		 FROM secrets WHERE owner_id = $1 AND key_name = $2`,
		ownerID, keyName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) DeleteSecret(ctx context.Context, ownerID, keyName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM secrets WHERE owner_id = $1 AND key_name = $2`,
		ownerID, keyName)
	return err
}

func (s *Store) UpsertCredential(ctx context.Context, cred *storage.Credential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mfa_credentials (owner_id, enabled, verified_at, last_used_at, recovery_remaining)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id)
		 DO UPDATE SET enabled = $2, verified_at = $3, last_used_at = $4, recovery_remaining = $5`,
		cred.OwnerID, cred.Enabled, cred.VerifiedAt, cred.LastUsedAt, cred.RecoveryRemaining)
	return err
}

func (s *Store) GetCredential(ctx context.Context, ownerID string) (*storage.Credential, error) {
	var cred storage.Credential
	err := s.db.GetContext(ctx, &cred,
		`SELECT owner_id, enabled, verified_at, last_used_at, recovery_remaining
		 FROM mfa_credentials WHERE owner_id = $1`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *Store) UpsertPendingSetup(ctx context.Context, setup *storage.PendingSetup) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_mfa_setups (owner_id, secret, recovery_codes, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id)
		 DO UPDATE SET secret = $2, recovery_codes = $3, expires_at = $4`,
		setup.OwnerID, setup.Secret, pq.Array(setup.RecoveryCodes), setup.ExpiresAt)
	return err
}

func (s *Store) GetPendingSetup(ctx context.Context, ownerID string) (*storage.PendingSetup, error) {
	var setup storage.PendingSetup
	var codes pq.StringArray
	err := s.db.QueryRowxContext(ctx,
		`SELECT owner_id, secret, recovery_codes, expires_at
		 FROM pending_mfa_setups WHERE owner_id = $1`, ownerID).
		Scan(&setup.OwnerID, &setup.Secret, &codes, &setup.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	setup.RecoveryCodes = []string(codes)
	return &setup, nil
}

func (s *Store) DeletePendingSetup(ctx context.Context, ownerID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_mfa_setups WHERE owner_id = $1`, ownerID)
	return err
}

func (s *Store) InsertSession(ctx context.Context, session *storage.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, session_token, kind, agent_name, os_name,
			city, country, timezone, is_active, created_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		session.ID, session.OwnerID, session.Token,
		session.Device.Kind, session.Device.Agent, session.Device.OS,
		session.Location.City, session.Location.Country, session.Location.Timezone,
		session.IsActive, session.CreatedAt, session.EndedAt)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT id, owner_id, session_token, kind, agent_name, os_name,
			city, country, timezone, is_active, created_at, ended_at
		 FROM sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return session, err
}

func (s *Store) ListSessions(ctx context.Context, ownerID string, activeOnly bool) ([]*storage.Session, error) {
	query := `SELECT id, owner_id, session_token, kind, agent_name, os_name,
			city, country, timezone, is_active, created_at, ended_at
		 FROM sessions WHERE owner_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryxContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSession(ctx context.Context, session *storage.Session) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_active = $2, ended_at = $3 WHERE id = $1`,
		session.ID, session.IsActive, session.EndedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) InsertAttempt(ctx context.Context, attempt *storage.LoginAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO login_attempts (id, owner_id, success, kind, agent_name, os_name,
			city, country, timezone, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attempt.ID, attempt.OwnerID, attempt.Success,
		attempt.Device.Kind, attempt.Device.Agent, attempt.Device.OS,
		attempt.Location.City, attempt.Location.Country, attempt.Location.Timezone,
		attempt.CreatedAt)
	return err
}

func (s *Store) ListAttempts(ctx context.Context, ownerID string, limit int) ([]*storage.LoginAttempt, error) {
	query := `SELECT id, owner_id, success, kind, agent_name, os_name,
			city, country, timezone, created_at
		 FROM login_attempts WHERE owner_id = $1
		 ORDER BY created_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.LoginAttempt
	for rows.Next() {
		var a storage.LoginAttempt
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Success,
			&a.Device.Kind, &a.Device.Agent, &a.Device.OS,
			&a.Location.City, &a.Location.Country, &a.Location.Timezone,
			&a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) PruneAttempts(ctx context.Context, ownerID string, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM login_attempts
		 WHERE owner_id = $1 AND id NOT IN (
			SELECT id FROM login_attempts
			WHERE owner_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		 )`, ownerID, keep)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*storage.Session, error) {
	var s storage.Session
	err := row.Scan(&s.ID, &s.OwnerID, &s.Token,
		&s.Device.Kind, &s.Device.Agent, &s.Device.OS,
		&s.Location.City, &s.Location.Country, &s.Location.Timezone,
		&s.IsActive, &s.CreatedAt, &s.EndedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
