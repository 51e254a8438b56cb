/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Loan Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve     Run the HTTP server (default when no command is given)
  migrate   Create the database schema and exit

STARTUP SEQUENCE (serve):
  1. Load YAML config (--config), apply flag overrides
  2. Set up structured logging (stdout or rotated file)
  3. Initialize SQLite store
  4. Build programs, pools and token ledger from config
  5. Create the engine, API handler and router
  6. Start the processing scheduler
  7. Start server with graceful shutdown

FLAGS:
  --config  YAML config file (optional, defaults apply)
  --port    HTTP server port, overrides config listen
  --db      SQLite database path, overrides config database
            Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/loans.db

  # Run with in-memory database on a different port
  ./server --db=":memory:" --port=3000

  # Create schema only
  ./server migrate --config=./loans.yaml

SEE ALSO:
  - config/config.go: Config file format
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/spf13/cobra"

	"github.com/warp/loan-engine/api"
	"github.com/warp/loan-engine/config"
	"github.com/warp/loan-engine/lending"
	"github.com/warp/loan-engine/observability"
	"github.com/warp/loan-engine/program"
	"github.com/warp/loan-engine/store/sqlite"
)

// recentEvents is how many published events the sink keeps in memory.
const recentEvents = 256

type options struct {
	configPath string
	port       int
	dbPath     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Warp Loan Engine",
		Long:          "Sub-loan operation ledger and interest accrual engine with an HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().IntVar(&opts.port, "port", 0, "HTTP server port (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), opts)
		},
	})

	return cmd
}

func loadConfig(opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.port != 0 {
		cfg.Listen = fmt.Sprintf(":%d", opts.port)
	}
	if opts.dbPath != "" {
		cfg.Database = opts.dbPath
	}
	return cfg, nil
}

func migrate(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	store, err := sqlite.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	fmt.Printf("schema ready at %s\n", cfg.Database)
	return nil
}

func serve(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, closer, err := observability.SetupLogging("loan-engine", cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	// Initialize store
	store, err := sqlite.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	// Programs, pools and balances
	env := program.NewEnvironment(cfg)

	metrics := observability.Engine()
	cal := cfg.Engine.Calendar()
	engine, err := lending.NewEngine(store, lending.Dependencies{
		Programs: env.Registry,
		Treasury: env.Registry,
		Tokens:   env.Tokens,
		Sink:     observability.NewEventSink(logger, metrics, recentEvents),
		Calendar: &cal,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	handler := api.NewHandler(engine, env, store)
	router := api.NewRouter(handler, cfg.CORS.AllowedOrigins)

	scheduler := api.NewProcessingScheduler(engine)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Listen, "database", cfg.Database)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errs:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
