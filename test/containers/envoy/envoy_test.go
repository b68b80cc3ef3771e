package envoy_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/getyourguide/extproc-remap/config"
	"github.com/getyourguide/extproc-remap/host"
	"github.com/getyourguide/extproc-remap/httptest"
	"github.com/getyourguide/extproc-remap/plugins/observer"
	"github.com/getyourguide/extproc-remap/remap"
	"github.com/getyourguide/extproc-remap/remap/remaptest"
	"github.com/getyourguide/extproc-remap/server"
	"github.com/getyourguide/extproc-remap/test/containers/envoy"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

const remapConfig = `
rules:
  - from: http://www.example.com
    to: http://origin.example.com
    plugins: [{name: remap_observer}]
  - from: http://www.example.com/api/
    to: http://api.example.com/v1/
    plugins: [{name: remap_observer}]
  - from: http://v1.example.com
    to: http://origin.example.com/v1
    plugins: [{name: remap_observer}]
  - from: http://broken.example.com
    to: http://origin.example.com
    plugins: [{name: remap_observer}, {name: remap_fail}]
`

type failingPlugin struct{}

func (failingPlugin) Init(api *remap.Interface) error { return remap.CheckInterface(api) }
func (failingPlugin) NewInstance([]string) (remap.Instance, error) { return struct{}{}, nil }
func (failingPlugin) DoRemap(remap.Instance, remap.Txn) remap.Status { return remap.StatusError }
func (failingPlugin) DeleteInstance(remap.Instance) {}

func init() {
	remap.Register("remap_fail", func(remap.Host) remap.Plugin { return failingPlugin{} })
}

func TestConfigRender(t *testing.T) {
	raw, err := envoy.Config{ListenerPort: 10000, ExtProcPort: 8081, UpstreamPort: 8080, HostAddress: "host.internal"}.Render()
	require.NoError(t, err)
	require.Contains(t, string(raw), "port_value: 8081")
	require.Contains(t, string(raw), "address: host.internal")
	require.Contains(t, string(raw), "allow_all_routing: true")
	require.False(t, strings.Contains(string(raw), "{{"))
}

func TestRemapThroughEnvoy(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Parse([]byte(remapConfig))
	require.NoError(t, err)
	h := remaptest.NewHost(host.DefaultVersion)
	remapper, err := host.Load(cfg, h)
	require.NoError(t, err)
	defer remapper.Close()

	srv := server.New(ctx,
		server.WithGrpcAddress("tcp", ":8081"),
		server.WithAdmin(":8080"),
		server.WithEcho(),
		server.WithFilters(remapper),
	)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve()
	}()
	require.NoError(t, server.WaitReady(srv, 10*time.Second))

	container := envoy.NewTestContainer(8081, 8080)
	u, err := container.Run(ctx, envoy.DefaultImage)
	testcontainers.CleanupContainer(t, container.Container)
	require.NoError(t, err)

	templateData := struct {
		HeaderName  string
		HeaderValue string
	}{
		HeaderName:  "x-custom-header",
		HeaderValue: "value-1",
	}
	httptest.LoadTemplate(t, "testdata/remap.yml", templateData).Run(t,
		httptest.WithURL(u.String()),
		httptest.WithRetry(httptest.Retry{MaxAttempts: 3, WaitMin: 200 * time.Millisecond, WaitMax: time.Second}),
	)

	require.Contains(t, h.DebugLines(observer.Name), "host header: 'www.example.com'")
	require.Contains(t, h.DebugLines(observer.Name), "url: 'http://www.example.com/api/users?id=1'")

	cancel()
	require.NoError(t, <-errCh)
}
