/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the absence engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config/) and build the logger (logging/)
  2. Open the store selected by database.driver (sqlite or postgres)
  3. Wire the notes sealer and the Kafka audit publisher when configured
  4. Seed the default milestone catalog
  5. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: $ABSENCE_CONFIG or config.yaml)
           A missing file is fine; defaults and the environment apply.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close the publisher and the database
  4. Exit

EXAMPLES:
  # Run with the default sqlite file
  ./server

  # Run against Postgres
  ABSENCE_DATABASE_DRIVER=postgres DATABASE_URL=postgres://... ./server

  # Run with in-memory database and demo scenarios
  ABSENCE_DATABASE_PATH=":memory:" ABSENCE_SERVER_SCENARIOS=true ./server

SEE ALSO:
  - config/config.go: All settings and their environment names
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/absence-engine/api"
	"github.com/warp/absence-engine/config"
	"github.com/warp/absence-engine/events"
	"github.com/warp/absence-engine/factory"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/logging"
	"github.com/warp/absence-engine/sickness"
	"github.com/warp/absence-engine/store/postgres"
	"github.com/warp/absence-engine/store/sqlite"
)

// store is what the server needs from either backend.
type store interface {
	sickness.Store
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	configPath := flag.String("config", envOr("ABSENCE_CONFIG", "config.yaml"), "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	sealer, err := notesSealer(cfg.Security)
	if err != nil {
		return err
	}
	if cfg.Security.NotesKey == "" {
		logger.Warn("security.notes_key not set, case notes are stored unencrypted")
	}

	st, err := openStore(cfg.Database, sealer, logger, cfg.Logger.Level == "debug")
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []sickness.Option{
		sickness.WithLogger(logger.Named("sickness")),
		sickness.WithLocation(cfg.Server.Location()),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic,
			events.WithLogger(logger.Named("events")))
		defer publisher.Close()
		opts = append(opts, sickness.WithPublisher(publisher))
		logger.Info("publishing audit records",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}
	svc := sickness.NewService(st, opts...)

	catalog, err := factory.DefaultCatalog()
	if err != nil {
		return fmt.Errorf("failed to load default catalog: %w", err)
	}
	if err := svc.SeedDefaults(context.Background(), catalog); err != nil {
		return fmt.Errorf("failed to seed default catalog: %w", err)
	}

	handler := api.NewHandler(svc, logger.Named("api"))
	handler.Ping = st.Ping
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logger.Named("http"),
		Scenarios:      cfg.Server.Scenarios,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("driver", cfg.Database.Driver),
			zap.Bool("scenarios", cfg.Server.Scenarios))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(cfg config.DatabaseConfig, sealer generic.Sealer, logger *zap.Logger, debugSQL bool) (store, error) {
	switch cfg.Driver {
	case "postgres":
		opts := []postgres.Option{
			postgres.WithLogger(logger.Named("postgres")),
			postgres.WithSealer(sealer),
			postgres.WithPool(cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime),
		}
		if debugSQL {
			opts = append(opts, postgres.WithSQLDebug())
		}
		st, err := postgres.New(cfg.DSN, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		return st, nil
	default:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		st, err := sqlite.New(cfg.Path,
			sqlite.WithLogger(logger.Named("sqlite")),
			sqlite.WithSealer(sealer))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite: %w", err)
		}
		return st, nil
	}
}

func notesSealer(cfg config.SecurityConfig) (generic.Sealer, error) {
	if cfg.NotesKey == "" {
		return generic.PlainSealer{}, nil
	}
	sealer, err := generic.NewAESSealerFromBase64(cfg.NotesKey)
	if err != nil {
		return nil, fmt.Errorf("invalid security.notes_key: %w", err)
	}
	return sealer, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
