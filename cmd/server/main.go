package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/KanavDutta/bitflip/config"
	"github.com/KanavDutta/bitflip/core"
	"github.com/KanavDutta/bitflip/server"
	"github.com/KanavDutta/bitflip/store"
)

var (
	configPath string
	sizeFlag   uint
	addrFlag   string
	workers    int
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "bitflip-server",
		Short: "Serve a shared bit vector over HTTP",
		Long: `bitflip-server holds a fixed-length bit vector in memory and lets
clients toggle bits and read consistent snapshots over HTTP.`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flags.UintVar(&sizeFlag, "size", 0, "bit-vector length (overrides config)")
	flags.StringVar(&addrFlag, "addr", "", "listen address (overrides config)")
	flags.IntVar(&workers, "workers", 0, "max concurrent handlers, 0 means 2 * NumCPU (overrides config)")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	bs, err := core.New(cfg.Store.Size,
		core.WithParallelism(cfg.Store.Parallelism),
		core.WithParallelThreshold(cfg.Store.ParallelThreshold),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rateStore store.Store
	if cfg.RateLimit.Enabled && cfg.RateLimit.Redis.Addr != "" {
		rs := store.NewRedisStore(store.RedisConfig{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
			TTL:      cfg.RateLimit.Redis.TTL,
		})
		defer rs.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RateLimit.Redis.Addr, err)
		}
		logger.Info("rate limit state in redis", "addr", cfg.RateLimit.Redis.Addr)
		rateStore = rs
	} else if cfg.RateLimit.Enabled {
		logger.Warn("rate limit state in memory, not shared across instances")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(server.Options{
		Config:    cfg,
		Store:     bs,
		Logger:    logger,
		Registry:  reg,
		RateStore: rateStore,
	})
	if err != nil {
		return err
	}

	logger.Info("bit store ready",
		"length", bs.Len(),
		"rate_limit", cfg.RateLimit.Enabled,
		"compress", cfg.Server.Compress,
	)
	return srv.Run(ctx)
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("size") {
		cfg.Store.Size = sizeFlag
	}
	if flags.Changed("addr") {
		cfg.Server.Addr = addrFlag
	}
	if flags.Changed("workers") {
		cfg.Server.Workers = workers
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = strings.ToLower(logLevel)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(h).With("service", "bitflip")
}
