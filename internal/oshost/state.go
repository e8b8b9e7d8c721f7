// Package oshost holds the OS state reported by the host shell. The agent has
// no direct access to the phone's permission or battery APIs; the shell pushes
// them through the local HTTP API and the consent rules read them back here.
package oshost

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/haukened/exposuregate/internal/app"
	"github.com/haukened/exposuregate/internal/domain"
)

// State is safe for concurrent use. The zero value has nothing reported.
type State struct {
	mu         sync.RWMutex
	permission domain.PermissionStatus
	battery    *bool
	appVersion string
}

var (
	_ app.PermissionChecker = (*State)(nil)
	_ app.BatteryOptimizer  = (*State)(nil)
	_ app.DeviceInfo        = (*State)(nil)
)

// New returns a State seeded with appVersion, which may be empty.
func New(appVersion string) *State {
	return &State{appVersion: strings.TrimSpace(appVersion)}
}

// SetPermission records the bluetooth permission status.
func (s *State) SetPermission(p domain.PermissionStatus) error {
	if _, err := domain.ParsePermissionStatus(string(p)); err != nil {
		return err
	}
	s.mu.Lock()
	s.permission = p
	s.mu.Unlock()
	return nil
}

// SetBatteryIgnoring records whether battery optimizations are ignored.
func (s *State) SetBatteryIgnoring(ignoring bool) {
	s.mu.Lock()
	s.battery = &ignoring
	s.mu.Unlock()
}

// SetAppVersion records the running application version.
func (s *State) SetAppVersion(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return fmt.Errorf("%w: empty app version", domain.ErrParse)
	}
	s.mu.Lock()
	s.appVersion = v
	s.mu.Unlock()
	return nil
}

// BluetoothPermission implements app.PermissionChecker.
func (s *State) BluetoothPermission(ctx context.Context) (domain.PermissionStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.permission == "" {
		return "", fmt.Errorf("%w: bluetooth permission not reported", domain.ErrPermissionQuery)
	}
	return s.permission, nil
}

// IgnoringBatteryOptimizations implements app.BatteryOptimizer.
func (s *State) IgnoringBatteryOptimizations(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.battery == nil {
		return false, fmt.Errorf("%w: battery optimization status not reported", domain.ErrPermissionQuery)
	}
	return *s.battery, nil
}

// AppVersion implements app.DeviceInfo.
func (s *State) AppVersion(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.appVersion == "" {
		return "", fmt.Errorf("%w: app version not reported", domain.ErrPermissionQuery)
	}
	return s.appVersion, nil
}
