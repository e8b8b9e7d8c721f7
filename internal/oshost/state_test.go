package oshost

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/exposuregate/internal/domain"
)

func TestUnreportedState(t *testing.T) {
	s := New("")
	ctx := context.Background()
	_, err := s.BluetoothPermission(ctx)
	assert.ErrorIs(t, err, domain.ErrPermissionQuery)
	_, err = s.IgnoringBatteryOptimizations(ctx)
	assert.ErrorIs(t, err, domain.ErrPermissionQuery)
	_, err = s.AppVersion(ctx)
	assert.ErrorIs(t, err, domain.ErrPermissionQuery)
}

func TestReportedState(t *testing.T) {
	s := New(" 1.2.3 ")
	ctx := context.Background()

	v, err := s.AppVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)

	require.NoError(t, s.SetPermission(domain.PermissionBlocked))
	p, err := s.BluetoothPermission(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionBlocked, p)

	s.SetBatteryIgnoring(false)
	ignoring, err := s.IgnoringBatteryOptimizations(ctx)
	require.NoError(t, err)
	assert.False(t, ignoring)

	require.NoError(t, s.SetAppVersion("2.0"))
	v, _ = s.AppVersion(ctx)
	assert.Equal(t, "2.0", v)
}

func TestSetterValidation(t *testing.T) {
	s := New("")
	assert.ErrorIs(t, s.SetPermission("maybe"), domain.ErrInvalidPermission)
	assert.ErrorIs(t, s.SetAppVersion("  "), domain.ErrParse)
}

func TestCanceledContext(t *testing.T) {
	s := New("1.0")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.AppVersion(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentAccess(t *testing.T) {
	s := New("1.0")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.SetBatteryIgnoring(i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.IgnoringBatteryOptimizations(context.Background())
		}()
	}
	wg.Wait()
	_, err := s.IgnoringBatteryOptimizations(context.Background())
	assert.NoError(t, err)
}
