package device

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/metadata"
)

func newTestRegistry(t *testing.T) (*Registry, *SimBackend) {
	t.Helper()
	backend := NewSimBackend()
	reg, err := NewRegistry(backend,
		Spec{ID: 1, Name: "speaker", Metadata: &metadata.Metadata{GKV: []metadata.KV{{Key: 0xA2000000, Value: 0xA2000001}}}},
		Spec{ID: 2, Name: "slimbus-rx", Class: ClassSlave},
	)
	require.NoError(t, err)
	return reg, backend
}

func TestRegistryGetReturnsSameDevice(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)

	a, err := reg.Get(1)
	require.NoError(t, err)
	b, err := reg.Get(1)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "speaker", a.Name())
	assert.Equal(t, StateClosed, a.State())
}

func TestRegistryUnknownDevice(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)

	_, err := reg.Get(99)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestRegistryDuplicate(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)

	err := reg.Register(Spec{ID: 1})
	assert.ErrorIs(t, err, ErrDeviceExists)
}

func TestRegistryListOrder(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, uint32(1), list[0].ID())
	assert.Equal(t, ClassSlave, list[1].Class())
}

func TestDeviceRefcountedLifecycle(t *testing.T) {
	t.Parallel()
	reg, backend := newTestRegistry(t)
	ctx := context.Background()
	d, err := reg.Get(1)
	require.NoError(t, err)

	// two sessions share the endpoint
	require.NoError(t, d.Open(ctx))
	require.NoError(t, d.Open(ctx))
	assert.Equal(t, 2, d.Users())
	require.NoError(t, d.Prepare(ctx))
	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.Start(ctx))
	assert.Equal(t, StateStarted, d.State())

	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, StateStarted, d.State(), "other user still running")
	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, StateStopped, d.State())

	require.NoError(t, d.Close(ctx))
	assert.Equal(t, StateStopped, d.State())
	require.NoError(t, d.Close(ctx))
	assert.Equal(t, StateClosed, d.State())
	assert.Equal(t, StateClosed, d.HardwareState())

	assert.Equal(t, []Call{
		{OpOpen, 1}, {OpPrepare, 1}, {OpStart, 1}, {OpStop, 1}, {OpClose, 1},
	}, backend.Calls())
}

func TestDeviceOpenFailure(t *testing.T) {
	t.Parallel()
	reg, backend := newTestRegistry(t)
	backend.Fail(OpOpen, 1, fmt.Errorf("no such card"))
	d, _ := reg.Get(1)

	err := d.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDevice))
	assert.Contains(t, err.Error(), "no such card")
	assert.Equal(t, 0, d.Users())
	assert.Equal(t, StateClosed, d.State())
}

func TestApplyCachedConfig(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	d, _ := reg.Get(1)

	var pushed [][]byte
	push := func(_ context.Context, blob []byte) error {
		pushed = append(pushed, blob)
		return fmt.Errorf("engine rejected")
	}

	d.SetParams([]byte{1, 2, 3})
	require.NoError(t, d.ApplyCachedConfig(ctx, push), "closed device keeps the cache")
	assert.True(t, d.HasPendingParams())
	assert.Empty(t, pushed)

	require.NoError(t, d.Open(ctx))
	require.Error(t, d.ApplyCachedConfig(ctx, push))
	assert.False(t, d.HasPendingParams(), "cache dropped even on failure")
	assert.Equal(t, [][]byte{{1, 2, 3}}, pushed)

	require.NoError(t, d.ApplyCachedConfig(ctx, push))
	assert.Len(t, pushed, 1)
}

func TestObserverSeesTransitions(t *testing.T) {
	t.Parallel()
	backend := NewSimBackend()
	reg, err := NewRegistry(backend, Spec{ID: 5})
	require.NoError(t, err)

	var seen []string
	reg.SetObserver(func(d *Device, op string, from, to State) {
		seen = append(seen, fmt.Sprintf("%s:%s->%s", op, from, to))
	})
	d, _ := reg.Get(5)
	ctx := context.Background()
	require.NoError(t, d.Open(ctx))
	require.NoError(t, d.Start(ctx))
	require.NoError(t, d.Close(ctx))

	assert.Equal(t, []string{"open:closed->opened", "start:opened->started", "close:started->closed"}, seen)
}

func TestParseClass(t *testing.T) {
	t.Parallel()

	c, err := ParseClass("slimbus")
	require.NoError(t, err)
	assert.Equal(t, ClassSlave, c)

	_, err = ParseClass("usb")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
