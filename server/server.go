package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	extproc "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/getyourguide/extproc-remap/filter"
	"github.com/getyourguide/extproc-remap/httptest/echo"
	"github.com/getyourguide/extproc-remap/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

const (
	defaultGrpcNetwork  = "tcp"
	defaultGrpcAddress  = ":8081"
	defaultHTTPBindAddr = ":8080"
	defaultShutdownWait = 5 * time.Second
)

type Server struct {
	serviceOpts  []service.Option
	grpcServer   *grpc.Server
	grpcNetwork  string
	grpcAddress  string
	grpcListener net.Listener
	admin        adminConfig
	ctx          context.Context

	// mu guards the listeners and servers created by Serve.
	mu sync.Mutex
}

// adminConfig is the plain HTTP server next to the gRPC one. It serves
// /healthz, /metrics when a gatherer is configured and the echo handlers
// used as upstream in tests.
type adminConfig struct {
	enabled     bool
	echo        bool
	bindAddress string
	mux         *http.ServeMux
	gatherer    prometheus.Gatherer
	listener    net.Listener
	httpsrv     *http.Server
}

type Option func(*Server)

func New(ctx context.Context, opts ...Option) *Server {
	srv := &Server{
		ctx: ctx,
	}

	for _, opt := range opts {
		opt(srv)
	}

	return srv
}

func WithFilters(f ...filter.Filter) Option {
	return func(s *Server) {
		s.serviceOpts = append(s.serviceOpts, service.WithFilters(f...))
	}
}

// WithServiceOptions passes options through to service.New.
func WithServiceOptions(opts ...service.Option) Option {
	return func(s *Server) {
		s.serviceOpts = append(s.serviceOpts, opts...)
	}
}

func WithGrpcServer(server *grpc.Server, network string, address string) Option {
	return func(s *Server) {
		s.grpcServer = server
		s.grpcNetwork = network
		s.grpcAddress = address
	}
}

// WithGrpcAddress sets where the gRPC server listens. network is tcp or unix.
func WithGrpcAddress(network string, address string) Option {
	return func(s *Server) {
		s.grpcNetwork = network
		s.grpcAddress = address
	}
}

// WithAdmin enables the admin HTTP server on address.
func WithAdmin(address string) Option {
	return func(s *Server) {
		s.admin.enabled = true
		s.admin.bindAddress = address
	}
}

// WithEcho registers /headers and /response-headers on the admin server.
func WithEcho() Option {
	return func(s *Server) {
		s.admin.enabled = true
		s.admin.echo = true
	}
}

// WithMetrics serves the metrics of gatherer on /metrics of the admin server.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.admin.enabled = true
		s.admin.gatherer = gatherer
	}
}

func WithAdminServerMux(mux *http.ServeMux, address string) Option {
	return func(s *Server) {
		s.admin.enabled = true
		s.admin.mux = mux
		s.admin.bindAddress = address
	}
}

// listen binds all listeners so addresses are known and Stop can run as soon as Serve returns.
func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcAddress == "" {
		s.grpcAddress = defaultGrpcAddress
	}
	if s.grpcNetwork == "" {
		s.grpcNetwork = defaultGrpcNetwork
	}
	if s.grpcNetwork == "unix" {
		os.RemoveAll(s.grpcAddress) // nolint:errcheck
	}
	listener, err := net.Listen(s.grpcNetwork, s.grpcAddress)
	if err != nil {
		return fmt.Errorf("cannot listen: %w", err)
	}
	s.grpcListener = listener
	if s.grpcServer == nil {
		s.grpcServer = grpc.NewServer()
	}
	extproc.RegisterExternalProcessorServer(s.grpcServer, service.New(s.serviceOpts...))

	if !s.admin.enabled {
		return nil
	}
	if s.admin.mux == nil {
		s.admin.mux = http.NewServeMux()
	}
	if s.admin.bindAddress == "" {
		s.admin.bindAddress = defaultHTTPBindAddr
	}
	s.admin.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok")) // nolint:errcheck
	})
	if s.admin.echo {
		s.admin.mux.HandleFunc("/headers", echo.RequestHeaders)
		s.admin.mux.HandleFunc("/response-headers", echo.ResponseHeaders)
	}
	if s.admin.gatherer != nil {
		s.admin.mux.Handle("/metrics", promhttp.HandlerFor(s.admin.gatherer, promhttp.HandlerOpts{}))
	}
	adminListener, err := net.Listen("tcp", s.admin.bindAddress)
	if err != nil {
		listener.Close() // nolint:errcheck
		return fmt.Errorf("cannot listen: %w", err)
	}
	s.admin.listener = adminListener
	s.admin.httpsrv = &http.Server{
		Handler:           s.admin.mux,
		ReadHeaderTimeout: defaultShutdownWait,
	}
	return nil
}

// Serve runs until the context given to New is done or a server fails.
func (s *Server) Serve() error {
	if s.ctx == nil {
		s.ctx = context.TODO()
	}
	if err := s.listen(); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	if s.admin.httpsrv != nil {
		go func() {
			slog.Info("starting http server", "address", s.admin.listener.Addr().String())
			if err := s.admin.httpsrv.Serve(s.admin.listener); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	go func() {
		slog.Info("starting grpc server", "address", s.grpcListener.Addr().String())
		errCh <- s.grpcServer.Serve(s.grpcListener)
	}()

	select {
	case <-s.ctx.Done():
		return s.Stop()
	case err := <-errCh:
		if stopErr := s.Stop(); stopErr != nil {
			slog.Error("could not stop servers", "error", stopErr)
		}
		return err
	}
}

// Stop gracefully stops both servers, waiting at most defaultShutdownWait for the HTTP one.
func (s *Server) Stop() error {
	s.mu.Lock()
	grpcServer, httpsrv := s.grpcServer, s.admin.httpsrv
	s.mu.Unlock()

	if grpcServer != nil {
		slog.Info("stopping grpc server")
		grpcServer.GracefulStop()
	}
	if s.grpcNetwork == "unix" {
		os.RemoveAll(s.grpcAddress) // nolint:errcheck
	}
	if httpsrv == nil {
		return nil
	}
	slog.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownWait)
	defer cancel()
	if err := httpsrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}
	return nil
}

// GrpcAddr returns the address the gRPC server listens on, nil before Serve.
func (s *Server) GrpcAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcListener == nil {
		return nil
	}
	return s.grpcListener.Addr()
}

// AdminAddr returns the address of the admin server, nil when disabled or before Serve.
func (s *Server) AdminAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admin.listener == nil {
		return nil
	}
	return s.admin.listener.Addr()
}

func IsReady(s *Server) bool {
	if s.GrpcAddr() == nil {
		return false
	}
	if !s.admin.enabled {
		return true
	}
	addr := s.AdminAddr()
	if addr == nil {
		return false
	}
	httpClient := http.Client{
		Timeout: 5 * time.Second,
	}
	res, err := httpClient.Get(fmt.Sprintf("http://%s/healthz", addr.String()))
	if err != nil {
		return false
	}
	res.Body.Close() // nolint:errcheck
	return res.StatusCode == http.StatusOK
}

func WaitReady(s *Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	tck := time.NewTicker(100 * time.Millisecond)
	defer tck.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tck.C:
			if IsReady(s) {
				return nil
			}
		}
	}
}
