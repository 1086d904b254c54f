// Command eventinspect runs the event ingestion and live stream service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eventinspect/eventinspect/pkg/config"
	"github.com/eventinspect/eventinspect/pkg/health"
	"github.com/eventinspect/eventinspect/pkg/ingest"
	"github.com/eventinspect/eventinspect/pkg/live"
	"github.com/eventinspect/eventinspect/pkg/observability/logger"
	"github.com/eventinspect/eventinspect/pkg/observability/metrics"
	"github.com/eventinspect/eventinspect/pkg/server"
	"github.com/eventinspect/eventinspect/pkg/stream"
	"github.com/eventinspect/eventinspect/pkg/version"
	"github.com/eventinspect/eventinspect/pkg/writekey"
)

const (
	serviceName = "eventinspect"
	envPrefix   = "EVENTINSPECT"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Real-time analytics event ingestion and streaming",
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config-file", "c", "", "config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(serviceName)
			fmt.Printf("Service:    %s\n", info.Service)
			fmt.Printf("Version:    %s\n", info.Version)
			fmt.Printf("Commit:     %s\n", info.Commit)
			fmt.Printf("Build Time: %s\n", info.BuildTime)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger(cfgPath)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, log)
		},
	}
	rootCmd.AddCommand(serveCmd)
	rootCmd.RunE = serveCmd.RunE

	rootCmd.AddCommand(&cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the health endpoint of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfigAndLogger(cfgPath)
			if err != nil {
				return err
			}
			return probeHealth(cmd.Context(), cfg.HTTP.Port)
		},
	})

	return rootCmd
}

func loadConfigAndLogger(cfgPath string) (*config.Config, logger.Logger, error) {
	loader := config.NewViperLoader(cfgPath, envPrefix)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level, err := logger.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	format, err := logger.ParseLogFormat(cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewZapLogger(logger.Config{Level: level, Format: format})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	return cfg, log, nil
}

func runServer(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	directory, err := writekey.NewStaticDirectory(cfg.Mappings())
	if err != nil {
		return fmt.Errorf("build write key directory: %w", err)
	}
	if len(cfg.Projects) == 0 {
		log.Warn("no projects configured, every ingest request will be rejected")
	}

	checks := health.NewRegistry()

	var bus live.Bus
	switch cfg.Bus.Variant {
	case config.BusVariantRedis:
		redisBus, err := live.NewRedisBus(live.RedisBusConfig{
			URL:              cfg.Redis.URL,
			Prefix:           cfg.Redis.Prefix,
			EventTTL:         cfg.Redis.EventTTL,
			QueueSize:        cfg.Redis.QueueSize,
			PollInterval:     cfg.Redis.PollInterval,
			PollBatch:        cfg.Redis.PollBatch,
			OperationTimeout: cfg.Redis.OperationTimeout,
			MaxConns:         cfg.Redis.MaxConns,
		}, log)
		if err != nil {
			return fmt.Errorf("create redis bus: %w", err)
		}
		checks.Register(health.NewRedisChecker("redis", redisBus.Client()))
		bus = redisBus
	default:
		bus = live.NewMemoryBus(log)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("bus close failed", "error", err)
		}
	}()

	m := metrics.New()

	deps := server.Deps{
		Ingest: ingest.NewHandler(directory, bus, live.DefaultRuleset(), log, m),
		Stream: stream.NewHandler(bus, stream.HandlerConfig{
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
			ClientBuffer:      cfg.Stream.ClientBuffer,
		}, log, m),
		Health:  checks,
		Metrics: m,
		Logger:  log,
		Version: version.Current(serviceName),
	}

	router := server.NewRouter(cfg, deps)
	srv := server.New(cfg.HTTP, router, log)

	log.Info("service starting",
		"version", version.Current(serviceName).Version,
		"bus_variant", cfg.Bus.Variant,
		"environment", cfg.Service.Environment,
	)

	return srv.Start(ctx)
}

func probeHealth(ctx context.Context, port int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://localhost:%d/healthz", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	fmt.Println("ok")
	return nil
}
