package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haukened/exposuregate/internal/domain"
)

// Persisted flag keys.
const (
	KeyTermsVersion        = "current_terms_version"
	KeyFirstPointTS        = "first_point_ts"
	KeyHideLocationHistory = "should_hide_location_history"
	KeyBLEConsent          = "user_agree_to_ble"
	KeyBatteryConsent      = "user_agreed_to_battery"
)

// GetFlag reads key and decodes it into T. A stored value that is not valid
// JSON for T wraps domain.ErrParse.
func GetFlag[T any](ctx context.Context, fs FlagStore, key string) (T, bool, error) {
	var v T
	raw, ok, err := fs.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, fmt.Errorf("%w: flag %s: %v", domain.ErrParse, key, err)
	}
	return v, true, nil
}

// SetFlag encodes v and writes it under key.
func SetFlag(ctx context.Context, fs FlagStore, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return fs.Set(ctx, key, string(b))
}

// UpdateFlag is the typed form of FlagStore.Update. An undecodable current
// value is passed to fn as absent.
func UpdateFlag[T any](ctx context.Context, fs FlagStore, key string, fn func(cur T, ok bool) (T, bool, error)) error {
	return fs.Update(ctx, key, func(raw string, ok bool) (string, bool, error) {
		var cur T
		if ok && json.Unmarshal([]byte(raw), &cur) != nil {
			ok = false
		}
		next, write, err := fn(cur, ok)
		if err != nil || !write {
			return "", false, err
		}
		b, err := json.Marshal(next)
		if err != nil {
			return "", false, err
		}
		return string(b), true, nil
	})
}
