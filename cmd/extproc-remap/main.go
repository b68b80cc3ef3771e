package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/getyourguide/extproc-remap/config"
	"github.com/getyourguide/extproc-remap/diags"
	"github.com/getyourguide/extproc-remap/filters"
	"github.com/getyourguide/extproc-remap/host"
	_ "github.com/getyourguide/extproc-remap/plugins/observer"
	"github.com/getyourguide/extproc-remap/remap"
	"github.com/getyourguide/extproc-remap/server"
	"github.com/getyourguide/extproc-remap/service"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/umputun/go-flags"
)

type options struct {
	Config       string `short:"c" long:"config" env:"CONFIG" default:"/etc/extproc-remap/remap.yml" description:"remap rules file"`
	GrpcNetwork  string `long:"grpc-network" env:"GRPC_NETWORK" default:"tcp" choice:"tcp" choice:"unix" description:"network of the gRPC listener"`
	GrpcAddress  string `long:"grpc-address" env:"GRPC_ADDRESS" default:":8081" description:"gRPC listen address or socket path"`
	AdminAddress string `long:"admin-address" env:"ADMIN_ADDRESS" default:":8080" description:"admin HTTP listen address, empty to disable"`
	Echo         bool   `long:"echo" env:"ECHO" description:"serve the echo handlers on the admin server"`
	Dbg          bool   `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var opts options

var revision = "unknown"

func main() {
	fmt.Printf("extproc-remap %s\n", revision)

	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, opts, os.Stderr); err != nil {
		slog.Error("oops", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, out io.Writer) error {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return fmt.Errorf("could not load config %s: %w", o.Config, err)
	}

	logger := newLogger(cfg.Logging, o.Dbg, out)
	slog.SetDefault(logger)
	log := logr.FromSlogHandler(logger.Handler())
	log.Info("starting", "revision", revision, "rules", len(cfg.Rules), "plugins", cfg.PluginNames(), "registered", remap.Registered())

	d, err := diags.New(log.WithName("diags"), cfg.Logging.DebugTags)
	if err != nil {
		return err
	}
	h := host.NewHost(cfg.HostVersion, d, diags.Rotation{
		Dir:        cfg.Logging.TextLogDir,
		MaxSizeMB:  cfg.Logging.Rotation.MaxSizeMB,
		MaxBackups: cfg.Logging.Rotation.MaxBackups,
		MaxAgeDays: cfg.Logging.Rotation.MaxAgeDays,
		Compress:   cfg.Logging.Rotation.Compress,
	})
	defer func() {
		if err := h.Close(); err != nil {
			log.Error(err, "could not close text logs")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	remapper, err := host.Load(cfg, h,
		host.WithLogger(log.WithName("remap")),
		host.WithMetrics(host.NewMetrics(reg, log)),
	)
	if err != nil {
		return fmt.Errorf("could not load remap plugins: %w", err)
	}
	defer remapper.Close()

	srvOpts := []server.Option{
		server.WithGrpcAddress(o.GrpcNetwork, o.GrpcAddress),
		server.WithServiceOptions(service.WithLogger(log)),
		server.WithFilters(remapper, filters.NewAccessLog(log.WithName("access"))),
	}
	if o.AdminAddress != "" {
		srvOpts = append(srvOpts, server.WithAdmin(o.AdminAddress), server.WithMetrics(reg))
		if o.Echo {
			srvOpts = append(srvOpts, server.WithEcho())
		}
	}
	return server.New(ctx, srvOpts...).Serve()
}

// newLogger builds the process logger. Debug mode forces the debug level.
func newLogger(cfg config.Logging, dbg bool, out io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dbg {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: dbg}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(out, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(out, handlerOpts))
}
