package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haukened/exposuregate/internal/app"
)

// Flags implements app.FlagStore over a KV. Writes to one key are serialized
// by a per-key mutex; reads go straight to the KV.
type Flags struct {
	kv    KV
	locks keyedMutex
}

// NewFlags returns a Flags backed by kv.
func NewFlags(kv KV) *Flags {
	return &Flags{kv: kv}
}

var _ app.FlagStore = (*Flags)(nil)

// Get returns the stored value of key.
func (f *Flags) Get(ctx context.Context, key string) (string, bool, error) {
	if f == nil || f.kv == nil {
		return "", false, errors.New("flags not properly initialized")
	}
	return f.kv.Get(ctx, key)
}

// Set writes value under key.
func (f *Flags) Set(ctx context.Context, key, value string) error {
	if f == nil || f.kv == nil {
		return errors.New("flags not properly initialized")
	}
	unlock := f.locks.lock(key)
	defer unlock()
	return f.kv.Put(ctx, key, value)
}

// Update reads key, hands it to fn and writes the result, all under the key's lock.
func (f *Flags) Update(ctx context.Context, key string, fn func(string, bool) (string, bool, error)) error {
	if f == nil || f.kv == nil {
		return errors.New("flags not properly initialized")
	}
	unlock := f.locks.lock(key)
	defer unlock()
	cur, ok, err := f.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	next, write, err := fn(cur, ok)
	if err != nil || !write {
		return err
	}
	return f.kv.Put(ctx, key, next)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Retention prunes samples and cached exposures older than a cutoff. It is
// the store the janitor drives.
type Retention struct {
	encounters EncounterIndex
	exposures  ExposureIndex
}

// NewRetention composes the two indexes.
func NewRetention(encounters EncounterIndex, exposures ExposureIndex) *Retention {
	return &Retention{encounters: encounters, exposures: exposures}
}

// DeleteBefore removes samples and exposures older than t and returns the
// combined count. Both deletions are attempted even if the first fails.
func (r *Retention) DeleteBefore(ctx context.Context, t time.Time) (int, error) {
	if r == nil || r.encounters == nil || r.exposures == nil {
		return 0, errors.New("retention not properly initialized")
	}
	n1, err1 := r.encounters.DeleteBefore(ctx, t)
	n2, err2 := r.exposures.DeleteBefore(ctx, t)
	return n1 + n2, errors.Join(err1, err2)
}
