package host_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/getyourguide/extproc-remap/diags"
	"github.com/getyourguide/extproc-remap/host"
	"github.com/getyourguide/extproc-remap/remap"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
)

func TestHost(t *testing.T) {
	d, err := diags.New(logr.Discard(), "")
	require.NoError(t, err)

	t.Run("default version", func(t *testing.T) {
		require.Equal(t, host.DefaultVersion, host.NewHost("", d, diags.Rotation{}).Version())
		require.Equal(t, "9.2.0", host.NewHost("9.2.0", d, diags.Rotation{}).Version())
	})

	t.Run("debug follows diags", func(t *testing.T) {
		require.False(t, host.NewHost("", d, diags.Rotation{}).DebugEnabled("remap_observer"))
	})

	t.Run("text logs are closed with the host", func(t *testing.T) {
		dir := t.TempDir()
		h := host.NewHost("", d, diags.Rotation{Dir: dir})
		l, err := h.CreateTextLog("remap_observer", remap.LogModeNone)
		require.NoError(t, err)
		require.NoError(t, l.Write("hello %s", "world"))

		raw, err := os.ReadFile(filepath.Join(dir, "remap_observer.log"))
		require.NoError(t, err)
		require.Equal(t, "hello world\n", string(raw))

		require.NoError(t, h.Close())
		require.Error(t, l.Write("after close"))
	})

	t.Run("text log without directory", func(t *testing.T) {
		_, err := host.NewHost("", d, diags.Rotation{}).CreateTextLog("remap_observer", remap.LogModeNone)
		require.ErrorContains(t, err, "could not create text log remap_observer")
	})
}
