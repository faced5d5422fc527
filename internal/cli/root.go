// Package cli implements the modeldeps CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/modeldeps/internal/backend"
	"github.com/rcliao/modeldeps/internal/backend/httpapi"
	"github.com/rcliao/modeldeps/internal/backend/localfs"
	"github.com/rcliao/modeldeps/internal/backend/s3"
	"github.com/rcliao/modeldeps/internal/config"
	"github.com/rcliao/modeldeps/internal/fetch"
	"github.com/rcliao/modeldeps/internal/logging"
	"github.com/rcliao/modeldeps/internal/metrics"
	"github.com/rcliao/modeldeps/internal/pipeline"
	"github.com/rcliao/modeldeps/internal/resolve"
	"github.com/rcliao/modeldeps/internal/store"
)

var (
	configPath  string
	dbPath      string
	backendFlag string
	rootFlag    string
	formatFlag  string
	logLevel    string
	metricsAddr string

	cfg *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "modeldeps",
	Short: "Resolve and cache 3D model dependencies",
	Long: "Load a 3D model from a file store together with the material libraries, buffers and\n" +
		"textures it needs. Dependencies are resolved tolerantly and cached in SQLite.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := setup(); err != nil {
			exitErr("config", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $MODELDEPS_CONFIG or ~/.modeldeps/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Cache database path (default: $MODELDEPS_DB or ~/.modeldeps/cache.db)")
	RootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "Storage backend: local, http or s3")
	RootCmd.PersistentFlags().StringVarP(&rootFlag, "root", "r", "", "Root directory for the local backend")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	RootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
}

// setup loads configuration, applies flag overrides and starts logging.
func setup() error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backendFlag != "" {
		c.Backend.Type = backendFlag
	}
	if rootFlag != "" {
		c.Backend.Local.RootPath = rootFlag
	}
	if dbPath != "" {
		c.Cache.DBPath = dbPath
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if metricsAddr != "" {
		c.Metrics.Addr = metricsAddr
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	if err := logging.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if cfg.Metrics.Addr != "" {
		serveMetrics(cfg.Metrics.Addr)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Warn("metrics server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logging.L().Info("serving metrics", zap.String("addr", addr))
}

func getDBPath() string {
	if cfg != nil && cfg.Cache.DBPath != "" {
		return cfg.Cache.DBPath
	}
	return config.DefaultDBPath()
}

func openStore() (*store.SQLiteStore, error) {
	limits, err := cfg.Cache.Limits()
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(getDBPath(), limits, store.WithLogger(logging.L().Named("store")))
}

func openBackend(ctx context.Context) (backend.Backend, error) {
	var b backend.Backend
	switch cfg.Backend.Type {
	case config.BackendLocal:
		lb, err := localfs.New(cfg.Backend.Local)
		if err != nil {
			return nil, err
		}
		b = lb
	case config.BackendHTTP:
		b = httpapi.New(cfg.Backend.HTTP)
	case config.BackendS3:
		sb, err := s3.New(ctx, cfg.Backend.S3)
		if err != nil {
			return nil, err
		}
		b = sb
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
	return metrics.InstrumentBackend(cfg.Backend.Type, b), nil
}

func newResolver(ctx context.Context) (*resolve.Resolver, func(), error) {
	b, err := openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts := []resolve.Option{resolve.WithLogger(logging.L().Named("resolve"))}
	cleanup := func() {}

	life, err := cfg.Resolver.CacheLife()
	if err != nil {
		return nil, nil, fmt.Errorf("listing cache life: %w", err)
	}
	if life > 0 {
		lc, err := resolve.NewMemoryListingCache(life)
		if err != nil {
			return nil, nil, fmt.Errorf("listing cache: %w", err)
		}
		opts = append(opts, resolve.WithListingCache(lc))
		cleanup = func() { lc.Close() }
	}

	r, err := resolve.New(b, &cfg.Resolver.Heuristics, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return r, cleanup, nil
}

// newPipeline wires backend, resolver, cache and orchestrator. A cache
// that cannot be opened is skipped with a warning.
func newPipeline(ctx context.Context) (*pipeline.Pipeline, func(), error) {
	r, closeResolver, err := newResolver(ctx)
	if err != nil {
		return nil, nil, err
	}
	b := r.Backend()

	log := logging.L()
	opts := []fetch.Option{
		fetch.WithLogger(log.Named("fetch")),
		fetch.WithMaxConcurrent(cfg.Fetch.MaxConcurrent),
	}
	cleanup := closeResolver

	if !cfg.Cache.Disabled {
		s, err := openStore()
		if err != nil {
			log.Warn("dependency cache unavailable", zap.String("db", getDBPath()), zap.Error(err))
		} else {
			opts = append(opts, fetch.WithCache(s, s.Limits().MaxItemSize))
			cleanup = func() {
				s.Close()
				closeResolver()
			}
		}
	}

	o := fetch.New(b, r, opts...)
	return pipeline.New(o, r, pipeline.WithLogger(log.Named("pipeline"))), cleanup, nil
}

func textOutput() bool {
	return strings.EqualFold(formatFlag, "text")
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	var mfe *fetch.MainFileError
	if errors.As(err, &mfe) {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", msg, mfe.Message())
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
