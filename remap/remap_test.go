package remap_test

import (
	"testing"

	"github.com/getyourguide/extproc-remap/remap"
	"github.com/stretchr/testify/require"
)

func TestCheckInterface(t *testing.T) {
	for _, tt := range []struct {
		name string
		api  *remap.Interface
		want error
	}{{
		name: "nil descriptor",
		api:  nil,
		want: remap.ErrInvalidInterface,
	}, {
		name: "descriptor too small",
		api:  &remap.Interface{Size: remap.InterfaceSize - 1},
		want: remap.ErrIncompatibleVersion,
	}, {
		name: "zero size",
		api:  &remap.Interface{},
		want: remap.ErrIncompatibleVersion,
	}, {
		name: "host descriptor",
		api:  remap.NewInterface(),
	}, {
		name: "larger descriptor from a newer host",
		api:  &remap.Interface{Size: remap.InterfaceSize + 8},
	}} {
		t.Run(tt.name, func(t *testing.T) {
			err := remap.CheckInterface(tt.api)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStatus(t *testing.T) {
	for _, tt := range []struct {
		status   remap.Status
		name     string
		stop     bool
		remapped bool
	}{
		{status: remap.StatusNoRemap, name: "no_remap"},
		{status: remap.StatusDidRemap, name: "did_remap", remapped: true},
		{status: remap.StatusNoRemapStop, name: "no_remap_stop", stop: true},
		{status: remap.StatusDidRemapStop, name: "did_remap_stop", stop: true, remapped: true},
		{status: remap.StatusError, name: "error", stop: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.name, tt.status.String())
			require.Equal(t, tt.stop, tt.status.Stop())
			require.Equal(t, tt.remapped, tt.status.Remapped())
		})
	}

	t.Run("unknown", func(t *testing.T) {
		require.Equal(t, "unknown", remap.Status(42).String())
		require.False(t, remap.Status(42).Stop())
	})
}

func TestOwnedString(t *testing.T) {
	t.Run("release runs callback once", func(t *testing.T) {
		calls := 0
		s := remap.NewOwnedString("http://example.com/", func() { calls++ })
		require.Equal(t, "http://example.com/", s.String())
		require.False(t, s.Released())

		s.Release()
		s.Release()
		require.Equal(t, 1, calls)
		require.True(t, s.Released())
		require.Empty(t, s.String())
	})

	t.Run("nil string", func(t *testing.T) {
		var s *remap.OwnedString
		require.NotPanics(t, s.Release)
		require.Empty(t, s.String())
		require.False(t, s.Released())
	})
}

type nopPlugin struct{}

func (nopPlugin) Init(*remap.Interface) error { return nil }
func (nopPlugin) NewInstance([]string) (remap.Instance, error) { return nil, nil }
func (nopPlugin) DoRemap(remap.Instance, remap.Txn) remap.Status { return remap.StatusNoRemap }
func (nopPlugin) DeleteInstance(remap.Instance) {}

func TestRegistry(t *testing.T) {
	factory := func(remap.Host) remap.Plugin { return nopPlugin{} }

	remap.Register("registry_test_nop", factory)
	got, ok := remap.Lookup("registry_test_nop")
	require.True(t, ok)
	require.NotNil(t, got)
	require.Contains(t, remap.Registered(), "registry_test_nop")

	_, ok = remap.Lookup("registry_test_missing")
	require.False(t, ok)

	require.Panics(t, func() { remap.Register("registry_test_nop", factory) })
	require.Panics(t, func() { remap.Register("registry_test_nil", nil) })
}
