// HostPulse: single-host system metrics sampler with a persistent history API.
// Author: vesaa | License: MIT | https://github.com/vesaa/hostpulse
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/vesaa/hostpulse/internal/agent"
	"github.com/vesaa/hostpulse/internal/cache"
	"github.com/vesaa/hostpulse/internal/collector"
	"github.com/vesaa/hostpulse/internal/config"
	"github.com/vesaa/hostpulse/internal/export"
	"github.com/vesaa/hostpulse/internal/logging"
	"github.com/vesaa/hostpulse/internal/sampler"
	"github.com/vesaa/hostpulse/internal/server"
	"github.com/vesaa/hostpulse/internal/store"
	"github.com/vesaa/hostpulse/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const asciiLogo = `
 ██╗  ██╗ ██████╗ ███████╗████████╗██████╗ ██╗   ██╗██╗     ███████╗███████╗
 ██║  ██║██╔═══██╗██╔════╝╚══██╔══╝██╔══██╗██║   ██║██║     ██╔════╝██╔════╝
 ███████║██║   ██║███████╗   ██║   ██████╔╝██║   ██║██║     ███████╗█████╗
 ██╔══██║██║   ██║╚════██║   ██║   ██╔═══╝ ██║   ██║██║     ╚════██║██╔══╝
 ██║  ██║╚██████╔╝███████║   ██║   ██║     ╚██████╔╝███████╗███████║███████╗
 ╚═╝  ╚═╝ ╚═════╝ ╚══════╝   ╚═╝   ╚═╝      ╚═════╝ ╚══════╝╚══════╝╚══════╝
`

const version = "v1.0.0"

const shutdownTimeout = 5 * time.Second

func printBanner(mode string) {
	fmt.Println(asciiLogo)
	fmt.Printf("  ► HostPulse %s  |  Author: vesaa  |  Mode: %s\n\n", version, mode)
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "hostpulse",
		Short: "HostPulse: host metrics sampler with a persistent history API",
		Long: `HostPulse samples CPU, memory, disk and network usage of the machine it
runs on, stores samples in SQLite and serves current, latest and historical
readings over HTTP.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./config.yaml or ~/.hostpulse/config.yaml)")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
		log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
		if err != nil {
			return nil, nil, fmt.Errorf("building logger: %w", err)
		}
		return cfg, log, nil
	}

	// ── serve subcommand ──────────────────────────────────────────────────────
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HostPulse HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("SERVE")

			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return serve(cmd.Context(), cfg, log)
		},
	}

	// ── agent subcommand ──────────────────────────────────────────────────────
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Periodically trigger POST /metrics/collect on a HostPulse server",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("AGENT")

			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			// CLI flags override config values.
			if s, _ := cmd.Flags().GetString("server"); s != "" {
				cfg.AgentServer = s
			}
			if k, _ := cmd.Flags().GetString("key"); k != "" {
				cfg.APIKey = k
			}
			if d, _ := cmd.Flags().GetDuration("interval"); d > 0 {
				cfg.AgentInterval = d
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("  ✓ Server:          %s\n", cfg.AgentServer)
			fmt.Printf("  ✓ Report interval: %s\n\n", cfg.AgentInterval)
			return agent.Run(ctx, agent.Options{
				Server:   cfg.AgentServer,
				APIKey:   cfg.APIKey,
				Interval: cfg.AgentInterval,
				Client:   &http.Client{Timeout: cfg.RequestTimeout + cfg.CPUWindow},
				Logger:   log,
			})
		},
	}
	agentCmd.Flags().String("server", "", "Server base URL, e.g. http://10.0.0.5:8000 (overrides config)")
	agentCmd.Flags().String("key", "", "API key sent as X-API-Key (overrides config)")
	agentCmd.Flags().Duration("interval", 0, "Trigger interval, e.g. 30s (overrides config)")

	// ── export subcommand ─────────────────────────────────────────────────────
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write stored samples from a time window to a Parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			hours, _ := cmd.Flags().GetInt("hours")
			limit, _ := cmd.Flags().GetInt("limit")
			out, _ := cmd.Flags().GetString("out")

			st, err := store.Open(cfg.DBDriver, cfg.DBPath, log)
			if err != nil {
				return err
			}
			defer st.Close()

			rows, err := st.History(cmd.Context(), hours, limit)
			if err != nil {
				return err
			}
			n, err := export.WriteFile(out, rows)
			if err != nil {
				return fmt.Errorf("exporting samples: %w", err)
			}
			fmt.Printf("  ✓ Wrote %d samples to %s\n", n, out)
			return nil
		},
	}
	exportCmd.Flags().Int("hours", store.DefaultHours, "Window size in hours (1-720)")
	exportCmd.Flags().Int("limit", store.MaxLimit, "Maximum number of samples (1-1000)")
	exportCmd.Flags().String("out", "samples.parquet", "Output file path")

	// ── config subcommand ─────────────────────────────────────────────────────
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg.Redacted())
		},
	}

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print HostPulse version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("HostPulse %s  |  Author: vesaa\n", version)
		},
	}

	root.AddCommand(serveCmd, agentCmd, exportCmd, configCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// serve wires the sampler, store, optional cache and HTTP layer, then blocks
// until SIGINT/SIGTERM or a listener failure.
func serve(parent context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBDriver, cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer st.Close()

	smp, err := sampler.New(ctx, sampler.HostSource{}, sampler.Options{
		CPUWindow: cfg.CPUWindow,
		DiskPath:  cfg.DiskPath,
	})
	if err != nil {
		return fmt.Errorf("initializing sampler: %w", err)
	}

	metrics := telemetry.New(prometheus.NewRegistry())

	svcOpts := collector.Options{
		Timeout: cfg.RequestTimeout + cfg.CPUWindow,
		Metrics: metrics,
		Logger:  log,
	}
	if cfg.RedisAddr != "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		latest := cache.NewLatest(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			cache.KeyFor(hostname, cfg.DBPath), cfg.CacheTTL)
		defer latest.Close()
		if err := latest.Check(ctx); err != nil {
			log.Warn("latest-sample cache unreachable, reads fall back to the database",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		svcOpts.Cache = latest
	}
	svc := collector.New(smp, st, svcOpts)
	if err := svc.SyncCache(ctx); err != nil {
		log.Warn("could not align latest-sample cache with the database", zap.Error(err))
	}

	keys := server.NewKeyChecker(cfg.APIKey, cfg.APIKeyHash)
	if !keys.Enabled() {
		log.Warn("no api_key configured: POST /metrics/collect will reject every request")
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(svc, st, server.Options{
		Info: server.Info{
			Name:     cfg.AppName,
			Version:  cfg.AppVersion,
			Platform: sampler.Platform(ctx),
		},
		Keys:           keys,
		Metrics:        metrics,
		Logger:         log,
		StreamInterval: cfg.StreamInterval,
		HealthTimeout:  cfg.RequestTimeout,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("  ✓ API        → http://%s\n", cfg.Addr())
	fmt.Printf("  ✓ Database   → %s\n", cfg.DBPath)
	fmt.Printf("  ✓ CPU window → %s\n\n", smp.Window())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}
