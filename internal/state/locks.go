package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lock errors.
var (
	// ErrLockHeld indicates a live lock already exists for the key.
	ErrLockHeld = errors.New("lock already held")
	// ErrLockNotFound indicates no lock exists for the key/token pair.
	ErrLockNotFound = errors.New("lock not found")
)

// DefaultLockTTL is used when callers pass a zero TTL.
const DefaultLockTTL = 30 * time.Second

// Lock is a held distributed lock. The LockID is the release token: only
// the holder that acquired the lock can release or renew it.
type Lock struct {
	LockID    string
	Key       string
	ExpiresAt time.Time
}

// AcquireLock acquires the lock for key with the given TTL. An expired lock
// is taken over; a live lock causes ErrLockHeld. A zero ttl uses
// DefaultLockTTL.
func (db *DB) AcquireLock(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	lock := &Lock{
		LockID:    uuid.New().String(),
		Key:       key,
		ExpiresAt: time.Now().Add(ttl),
	}

	err := db.Transaction(func(tx *sql.Tx) error {
		row := tx.QueryRow("SELECT lock_id, expires_at FROM locks WHERE key = ?", key)
		var existingID, expiresAt string
		switch err := row.Scan(&existingID, &expiresAt); {
		case err == sql.ErrNoRows:
			// No lock held.
		case err != nil:
			return fmt.Errorf("load lock: %w", err)
		default:
			expires, parseErr := parseTime(expiresAt)
			if parseErr == nil && expires.After(time.Now()) {
				return fmt.Errorf("lock %q: %w", key, ErrLockHeld)
			}
			// Expired lock: take it over.
		}

		if _, err := tx.Exec(`
			INSERT INTO locks (key, lock_id, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET lock_id = excluded.lock_id, expires_at = excluded.expires_at
		`, key, lock.LockID, formatTime(lock.ExpiresAt)); err != nil {
			return fmt.Errorf("write lock: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// ReleaseLock releases the lock for key if lockID matches the holder.
func (db *DB) ReleaseLock(ctx context.Context, key, lockID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := db.Exec("DELETE FROM locks WHERE key = ? AND lock_id = ?", key, lockID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("lock %q: %w", key, ErrLockNotFound)
	}
	return nil
}

// RenewLock extends the expiry of a held lock by ttl from now.
func (db *DB) RenewLock(ctx context.Context, key, lockID string, ttl time.Duration) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	expires := time.Now().Add(ttl)
	res, err := db.Exec(`
		UPDATE locks SET expires_at = ? WHERE key = ? AND lock_id = ?
	`, formatTime(expires), key, lockID)
	if err != nil {
		return nil, fmt.Errorf("renew lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("lock rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("lock %q: %w", key, ErrLockNotFound)
	}
	return &Lock{LockID: lockID, Key: key, ExpiresAt: expires}, nil
}
