// cmd/server/main.go
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

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"usis-service/internal/config"
	"usis-service/internal/database"
	discovery "usis-service/internal/discovery/serial"
	"usis-service/internal/handler"
	"usis-service/internal/protocol/serial"
	"usis-service/internal/repository"
	"usis-service/internal/routes"
	"usis-service/internal/service"
	"usis-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	router   *routes.Router
	database *database.DB
	migrator *database.Migrator

	session  *serial.Session
	eventBus *handler.EventBus

	// Services
	commandService   *service.CommandService
	discoveryService *service.DiscoveryService

	// Repositories
	exchangeRepo repository.ExchangeRepository

	stopBackground context.CancelFunc
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	migrateCmd := pflag.String("migrate", "", "run a migration command and exit (up, down, version)")
	pflag.Parse()

	// Initialize application
	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if *migrateCmd != "" {
		if err := app.runMigration(*migrateCmd); err != nil {
			app.logger.Error("Migration failed", zap.Error(err))
			app.shutdown()
			os.Exit(1)
		}
		app.shutdown()
		return
	}

	// Start the application
	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	// Initialize components
	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	app.initializeSession()

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase sets up database connection and runs migrations
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, journal kept in memory",
			zap.Int("capacity", app.config.Journal.Capacity),
		)
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	app.database = db
	app.migrator = database.NewMigrator(db, app.logger)

	if app.config.Database.MigrateOnStart {
		if err := app.migrator.Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeRepositories creates repository instances
func (app *Application) initializeRepositories() error {
	if app.database != nil {
		app.exchangeRepo = repository.NewExchangeRepository(app.database, app.logger)
	} else {
		app.exchangeRepo = repository.NewMemoryExchangeRepository(app.config.Journal.Capacity, app.logger)
	}

	app.logger.Info("Repositories initialized successfully")
	return nil
}

// initializeSession opens the serial link. A port that cannot be opened
// leaves the service running with every exchange reporting the port unavailable.
func (app *Application) initializeSession() {
	sessionConfig := app.config.SessionConfig()

	session, err := serial.Open(sessionConfig, app.logger)
	if err != nil {
		app.logger.Warn("Serial link unavailable",
			zap.Error(err),
			zap.String("port", sessionConfig.Port),
		)
		session = serial.Unavailable(sessionConfig, app.logger)
	}

	app.session = session
}

// initializeServices creates service instances
func (app *Application) initializeServices() error {
	app.eventBus = handler.NewEventBus(app.logger)

	app.commandService = service.NewCommandService(
		app.session,
		app.exchangeRepo,
		app.eventBus,
		&app.config.Protocol,
		app.logger,
	)

	scanner := discovery.NewScanner(app.logger, &discovery.Config{
		PortPatterns: app.config.Discovery.PortPatterns,
		USBOnly:      app.config.Discovery.USBOnly,
	})
	app.discoveryService = service.NewDiscoveryService(scanner, app.logger)

	app.logger.Info("Services initialized successfully")
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	deps := routes.Dependencies{
		Config:           app.config,
		Logger:           app.logger,
		Link:             app.session,
		EventBus:         app.eventBus,
		CommandService:   app.commandService,
		DiscoveryService: app.discoveryService,
	}
	if app.database != nil {
		deps.DB = app.database
		deps.Migrator = app.migrator
	}

	app.router = routes.NewRouter(deps)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("enabled", app.config.Server.Enabled),
	)

	return nil
}

// runMigration executes a one-shot migration command
func (app *Application) runMigration(command string) error {
	if app.migrator == nil {
		return errors.New("database is disabled")
	}

	switch command {
	case "up":
		return app.migrator.Up()
	case "down":
		return app.migrator.Down()
	case "version":
		version, dirty, err := app.migrator.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version: %d dirty: %t\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	ctx, cancel := context.WithCancel(context.Background())
	app.stopBackground = cancel

	go app.eventBus.Start()
	go app.startCleanupService(ctx)

	app.logger.Info("Background services started")
}

// startCleanupService drops journal entries past the retention period
func (app *Application) startCleanupService(ctx context.Context) {
	interval := app.config.Journal.CleanupInterval
	if interval <= 0 || app.config.Journal.Retention <= 0 {
		app.logger.Info("Journal cleanup disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	app.logger.Info("Cleanup service started",
		zap.Duration("interval", interval),
		zap.Duration("retention", app.config.Journal.Retention),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cleanupCtx, cancel := context.WithTimeout(ctx, time.Minute)
		deleted, err := app.commandService.CleanupJournal(cleanupCtx, app.config.Journal.Retention)
		cancel()

		if err != nil {
			app.logger.Error("Failed to cleanup exchange journal", zap.Error(err))
		} else if deleted > 0 {
			app.logger.Info("Cleaned up old exchanges", zap.Int64("deleted", deleted))
		}
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	if app.stopBackground != nil {
		app.stopBackground()
	}

	if app.config.Server.Enabled && app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("HTTP server stopped")
		}
	}

	if app.router != nil {
		app.router.Shutdown()
	}
	if app.eventBus != nil {
		app.eventBus.Stop()
	}

	if app.session != nil {
		if err := app.session.Close(); err != nil {
			app.logger.Error("Serial link close error", zap.Error(err))
		}
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

func (app *Application) Start() error {
	if app.config.Server.Enabled {
		go func() {
			app.logger.Info("Starting HTTP server",
				zap.String("address", app.server.Addr),
			)

			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
			}
		}()
	} else {
		app.logger.Info("HTTP server disabled")
	}

	app.startBackgroundServices()

	app.waitForShutdown()

	return nil
}
