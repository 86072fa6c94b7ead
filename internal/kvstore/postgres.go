package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore implements Store on two tables (broker_kv, broker_kv_set) created by
// the embedded migrations. Expiry is enforced by filtering on expires_at; expired rows
// are reaped opportunistically on write, so no background sweep is required.
//
// CompareAndReplace is a single UPDATE guarded by the expected value, which Postgres
// executes atomically: exactly one of two concurrent rotations can match the row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a session store backed by the given database.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func infra(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Put stores value under key with the given TTL, overwriting any prior value.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO broker_kv (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`, key, value, time.Now().UTC().Add(ttl))
	if err != nil {
		return infra(err)
	}
	return nil
}

// Get returns the value for key, or ErrKeyNotFound if absent or expired.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM broker_kv WHERE key = $1 AND expires_at > now()
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, infra(err)
	}
	return value, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM broker_kv WHERE key = $1`, key); err != nil {
		return infra(err)
	}
	return nil
}

// CompareAndReplace atomically replaces the value under key when it still equals
// expected, resetting the TTL. Returns false when the value did not match.
func (s *PostgresStore) CompareAndReplace(ctx context.Context, key string, expected, replacement []byte, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE broker_kv SET value = $3, expires_at = $4
		WHERE key = $1 AND value = $2 AND expires_at > now()
	`, key, expected, replacement, time.Now().UTC().Add(ttl))
	if err != nil {
		return false, infra(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, infra(err)
	}
	return n == 1, nil
}

// AddToSet adds member to the set under key and extends the set's TTL.
func (s *PostgresStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return infra(err)
	}
	defer func() { _ = tx.Rollback() }()
	exp := time.Now().UTC().Add(ttl)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO broker_kv_set (key, member, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key, member) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`, key, member, exp)
	if err != nil {
		return infra(err)
	}
	// Extending the set's lifetime extends every member, mirroring a per-key TTL.
	_, err = tx.ExecContext(ctx, `
		UPDATE broker_kv_set SET expires_at = $2 WHERE key = $1
	`, key, exp)
	if err != nil {
		return infra(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM broker_kv WHERE expires_at <= now()`); err != nil {
		return infra(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM broker_kv_set WHERE expires_at <= now()`); err != nil {
		return infra(err)
	}
	if err := tx.Commit(); err != nil {
		return infra(err)
	}
	return nil
}

// RemoveFromSet removes member from the set under key.
func (s *PostgresStore) RemoveFromSet(ctx context.Context, key, member string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM broker_kv_set WHERE key = $1 AND member = $2
	`, key, member)
	if err != nil {
		return infra(err)
	}
	return nil
}

// SetMembers returns the unexpired members of the set under key.
func (s *PostgresStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member FROM broker_kv_set WHERE key = $1 AND expires_at > now()
	`, key)
	if err != nil {
		return nil, infra(err)
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, infra(err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(err)
	}
	return members, nil
}
