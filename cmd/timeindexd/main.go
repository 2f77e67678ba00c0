// timeindexd serves time indexes over gRPC
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nainya/timeindex/internal/config"
	"github.com/nainya/timeindex/internal/logger"
	"github.com/nainya/timeindex/internal/metrics"
	"github.com/nainya/timeindex/internal/server"
	"github.com/nainya/timeindex/pkg/index"
)

const maxMessageSize = 100 * 1024 * 1024

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	overrides := config.Default()

	cmd := &cobra.Command{
		Use:          "timeindexd",
		Short:        "Serve time indexes over gRPC",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port = overrides.Port
			}
			if flags.Changed("metrics-port") {
				cfg.MetricsPort = overrides.MetricsPort
			}
			if flags.Changed("data-dir") {
				cfg.DataDir = overrides.DataDir
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = overrides.LogLevel
			}
			if flags.Changed("log-pretty") {
				cfg.LogPretty = overrides.LogPretty
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "YAML configuration file")
	flags.IntVar(&overrides.Port, "port", overrides.Port, "gRPC port")
	flags.IntVar(&overrides.MetricsPort, "metrics-port", overrides.MetricsPort, "metrics and profiling port (0 disables)")
	flags.StringVar(&overrides.DataDir, "data-dir", overrides.DataDir, "directory relative index paths resolve against")
	flags.StringVar(&overrides.LogLevel, "log-level", overrides.LogLevel, "debug, info, warn or error")
	flags.BoolVar(&overrides.LogPretty, "log-pretty", overrides.LogPretty, "human readable logs")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.InitGlobalLogger(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log := logger.GetGlobalLogger()
	log.LogServerStart(cfg.Port, cfg.DataDir)

	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	srv := server.NewServer(server.Options{
		DataDir: dataDir,
		Defaults: index.Properties{
			index.PropLoadStyle:   cfg.LoadStyle,
			index.PropCachePolicy: cfg.CachePolicy,
		},
		Logger:  log,
		Metrics: m,
	})

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.ChainUnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
		grpc.ChainStreamInterceptor(server.GrpcStreamInterceptor(m, log)),
	)
	server.Register(grpcServer, srv)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	var obs *server.ObservabilityServer
	if cfg.MetricsPort > 0 {
		obs = server.NewObservabilityServer(cfg.MetricsPort, reg, func() bool { return true }, log)
		go func() {
			if err := obs.Start(); err != nil {
				log.Error("Observability server stopped").Err(err).Send()
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.LogServerShutdown()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	log.LogServerReady(cfg.Port)
	serveErr := grpcServer.Serve(lis)

	if obs != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(); err != nil {
		log.Error("Closing indexes failed").Err(err).Send()
	}
	return serveErr
}
