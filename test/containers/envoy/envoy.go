// Package envoy runs Envoy in a container, configured to send every request
// through the external processing service and then to the echo upstream,
// both running on the test host.
package envoy

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"strconv"
	"text/template"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultImage is an Envoy build shipping the ext_proc filter.
	DefaultImage = "istio/proxyv2:1.24.2"

	listenerPort = 10000
	configPath   = "/etc/envoy/envoy.yml"
)

//go:embed envoy.yml
var configTemplate string

// Config holds the ports rendered into envoy.yml.
type Config struct {
	ListenerPort int
	ExtProcPort  int
	UpstreamPort int
	HostAddress  string
}

// Render returns the Envoy bootstrap configuration.
func (c Config) Render() ([]byte, error) {
	tmpl, err := template.New("envoy.yml").Parse(configTemplate)
	if err != nil {
		return nil, fmt.Errorf("could not parse envoy config: %w", err)
	}
	var b bytes.Buffer
	if err := tmpl.Execute(&b, c); err != nil {
		return nil, fmt.Errorf("could not render envoy config: %w", err)
	}
	return b.Bytes(), nil
}

type TestContainer struct {
	testcontainers.Container
	config       Config
	overrides    testcontainers.GenericContainerRequest
	waitStrategy wait.Strategy
}

type TestContainerOption func(*TestContainer)

// NewTestContainer returns a container reaching the gRPC service on
// extProcPort and the echo upstream on upstreamPort of the test host.
func NewTestContainer(extProcPort int, upstreamPort int, opts ...TestContainerOption) *TestContainer {
	c := &TestContainer{
		config: Config{
			ListenerPort: listenerPort,
			ExtProcPort:  extProcPort,
			UpstreamPort: upstreamPort,
			HostAddress:  testcontainers.HostInternal,
		},
		waitStrategy: wait.ForListeningPort(nat.Port(strconv.Itoa(listenerPort) + "/tcp")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithEntrypoint(entrypoint ...string) TestContainerOption {
	return func(c *TestContainer) {
		c.overrides.Entrypoint = entrypoint
	}
}

func WithWaitStrategy(strategy wait.Strategy) TestContainerOption {
	return func(c *TestContainer) {
		c.waitStrategy = strategy
	}
}

// Run starts Envoy from img and returns the URL of its listener.
func (c *TestContainer) Run(ctx context.Context, img string, opts ...testcontainers.ContainerCustomizer) (*url.URL, error) {
	config, err := c.config.Render()
	if err != nil {
		return nil, err
	}
	entrypoint := c.overrides.Entrypoint
	if len(entrypoint) == 0 {
		entrypoint = []string{"/usr/local/bin/envoy", "--log-level", "warn", "-c", configPath}
	}

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        img,
			Entrypoint:   entrypoint,
			ExposedPorts: []string{strconv.Itoa(listenerPort) + "/tcp"},
			Files: []testcontainers.ContainerFile{{
				ContainerFilePath: configPath,
				Reader:            bytes.NewReader(config),
				FileMode:          0o644,
			}},
			HostAccessPorts: []int{c.config.ExtProcPort, c.config.UpstreamPort},
			WaitingFor:      c.waitStrategy,
		},
		Started: true,
	}
	for _, opt := range opts {
		if err := opt.Customize(&req); err != nil {
			return nil, fmt.Errorf("customize: %w", err)
		}
	}

	ctr, err := testcontainers.GenericContainer(ctx, req)
	c.Container = ctr
	if err != nil {
		return nil, fmt.Errorf("could not run container: %w", err)
	}

	hostIP, err := ctr.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not get host ip: %w", err)
	}
	mappedPort, err := ctr.MappedPort(ctx, "10000")
	if err != nil {
		return nil, fmt.Errorf("could not get mapped port: %w", err)
	}

	u, err := url.Parse(fmt.Sprintf("http://%s:%s", hostIP, mappedPort.Port()))
	if err != nil {
		return nil, fmt.Errorf("could not parse url: %w", err)
	}
	return u, nil
}
