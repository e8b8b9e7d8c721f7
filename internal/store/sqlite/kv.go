package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/haukened/exposuregate/internal/store"
)

var _ store.KV = (*KV)(nil)

// KV implements store.KV on the flags table.
type KV struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewKV returns a KV using db.
func NewKV(db *sqlx.DB) *KV {
	return &KV{db: db, now: time.Now}
}

// Get returns the value stored under key.
func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	const q = `SELECT value FROM flags WHERE key = ?`
	var v string
	if err := k.db.GetContext(ctx, &v, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// Put inserts or replaces the value stored under key.
func (k *KV) Put(ctx context.Context, key, value string) error {
	const q = `INSERT INTO flags (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err := k.db.ExecContext(ctx, q, key, value, k.now().UnixMilli())
	return err
}
