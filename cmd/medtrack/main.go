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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"medtrack/internal/adherence"
	"medtrack/internal/config"
	"medtrack/internal/db"
	httpx "medtrack/internal/http"
	"medtrack/internal/jobs"
	"medtrack/internal/notify"
	"medtrack/internal/realtime"
	"medtrack/internal/store/gormstore"
	"medtrack/internal/store/memstore"
	"medtrack/internal/sweep"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medtrack",
		Short: "Medication adherence tracking service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, dispatch worker and sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate needs STORE=%s", config.StorePostgres)
			}
			logger := cfg.Logger(os.Stdout)
			gdb, err := db.Connect(cfg.DatabaseURL, cfg.LogLevel <= zerolog.DebugLevel)
			if err != nil {
				return err
			}
			if err := db.AutoMigrateAndIndexes(gdb); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Msg("schema up to date")
			return nil
		},
	}
}

func runServer(cfg config.Config) error {
	logger := cfg.Logger(os.Stdout)

	var (
		store adherence.Store
		queue jobs.Queue
	)
	switch cfg.Store {
	case config.StoreMemory:
		ms := memstore.New()
		store, queue = ms, ms
		logger.Warn().Msg("using in-memory store; state is lost on exit")
	default:
		gdb, err := db.Connect(cfg.DatabaseURL, cfg.LogLevel <= zerolog.DebugLevel)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		if err := db.AutoMigrateAndIndexes(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		store, queue = gormstore.New(gdb), &jobs.Repo{DB: gdb}
		logger.Info().Msg("connected to database")
	}

	hub := realtime.NewHub(logger, cfg.CORSAllowedOrigins)
	notifier := notify.Fanout{notify.Log{Logger: logger.With().Str("component", "notify").Logger()}, hub}
	clock := adherence.SystemClock()

	tracker := adherence.NewTracker(store, clock, notifier, logger, adherence.Options{
		Location:    cfg.Location,
		LookAhead:   cfg.LookAheadDays,
		MissedGrace: cfg.MissedGrace,
	})
	reminders := adherence.NewCoordinator(store, clock, notifier, logger, cfg.Location)
	reminders.OnChange(tracker.Hub().Notify)
	profiles := adherence.NewProfiles(store, clock)

	worker := &jobs.Worker{
		ID:    cfg.WorkerID,
		Queue: queue,
		Poll:  cfg.WorkerPoll,
		Log:   logger.With().Str("component", "worker").Logger(),
	}
	worker.Handle(jobs.TypeReminderDispatch, reminders.HandleDispatch)

	sched, err := sweep.New(tracker, sweep.Config{
		Missed:   cfg.SweepSchedule,
		Window:   cfg.WindowSchedule,
		Location: cfg.Location,
	}, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catch up before the first cron tick.
	if _, err := tracker.ExtendWindow(ctx); err != nil {
		logger.Error().Err(err).Msg("initial window top-up failed")
	}
	go worker.Run(ctx)
	sched.Start()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpx.NewRouter(cfg, httpx.Deps{
			Tracker:   tracker,
			Reminders: reminders,
			Profiles:  profiles,
			Hub:       hub,
		}, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("shutting down server")
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
