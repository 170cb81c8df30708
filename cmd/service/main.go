// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scm-graph-fetcher/internal/api"
	"scm-graph-fetcher/internal/bitbucket"
	"scm-graph-fetcher/internal/config"
	"scm-graph-fetcher/internal/database"
	"scm-graph-fetcher/internal/github"
	"scm-graph-fetcher/internal/metrics"
	"scm-graph-fetcher/internal/syncer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("Application error", "error", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Mirror repositories, branches and commits from an SCM provider into a relational store",
		Long: `Fetches every repository the configured account can see, their branches and
the commits on them, and stores them with idempotent inserts.

Configuration comes from environment variables or a .env file in the
working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "sync",
			Short: "Run one ingestion pass and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSync(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the read API and run ingestion periodically",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply schema migrations and exit",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate()
			},
		},
	)
	return cmd
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func bootstrap() (*app, error) {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully", "provider", cfg.Provider)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics.New(registry),
	}, nil
}

// openStore migrates the configured database and connects to it.
func (a *app) openStore(ctx context.Context) (database.Store, error) {
	dbURL, err := a.cfg.DatabaseURL()
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(dbURL); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	a.logger.Info("Database migrations applied successfully")

	store, err := database.Open(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.logger.Info("Database connection established")
	return store, nil
}

func (a *app) newSource() (syncer.Source, error) {
	cfg := a.cfg
	switch cfg.Provider {
	case config.ProviderGithub:
		return github.NewClient(github.Options{
			Token:             cfg.GithubToken,
			BaseURL:           cfg.GithubAPIURL,
			PageSize:          cfg.RequestPageSize,
			BranchPageLimit:   cfg.BranchPageLimit,
			CommitPageLimit:   cfg.CommitPageLimit,
			CommitMonthLimit:  cfg.CommitMonthLimit,
			IgnoredRepos:      cfg.IgnoredRepoSet(),
			BackoffBase:       cfg.BackoffBase,
			MaxRetries:        cfg.MaxRateLimitRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.HTTPTimeout,
		}, a.logger, a.metrics)
	default:
		return bitbucket.NewClient(bitbucket.Options{
			BaseURL:           cfg.BitbucketAPIURL,
			Username:          cfg.BitbucketUsername,
			Password:          cfg.BitbucketPassword,
			AccessToken:       cfg.BitbucketAccessToken,
			PageSize:          cfg.RequestPageSize,
			BranchPageLimit:   cfg.BranchPageLimit,
			CommitPageLimit:   cfg.CommitPageLimit,
			CommitMonthLimit:  cfg.CommitMonthLimit,
			IgnoredRepos:      cfg.IgnoredRepoSet(),
			BackoffBase:       cfg.BackoffBase,
			MaxRetries:        cfg.MaxRateLimitRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.HTTPTimeout,
		}, a.logger, a.metrics), nil
	}
}

func (a *app) newSyncer(store database.Store) (*syncer.Syncer, error) {
	source, err := a.newSource()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", a.cfg.Provider, err)
	}
	return syncer.NewSyncer(source, store, a.logger, a.metrics, syncer.Options{
		MainBranchOnly: a.cfg.MainBranchOnly,
		Interval:       a.cfg.SyncInterval,
	}), nil
}

func runSync(ctx context.Context) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := a.newSyncer(store)
	if err != nil {
		return err
	}
	_, err = s.RunOnce(ctx)
	return err
}

func runServe(ctx context.Context) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	s, err := a.newSyncer(store)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.NewRouter(store, s, a.registry, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Start(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutdown signal received. Exiting.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runMigrate() error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	dbURL, err := a.cfg.DatabaseURL()
	if err != nil {
		return err
	}
	if err := database.Migrate(dbURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	a.logger.Info("Database migrations applied successfully")
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
