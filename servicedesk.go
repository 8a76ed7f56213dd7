package servicedesk

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"

	"github.com/fieldgrid/servicedesk/internal/config"
	"github.com/fieldgrid/servicedesk/internal/controllers"
	"github.com/fieldgrid/servicedesk/internal/core"
	"github.com/fieldgrid/servicedesk/internal/engine"
	"github.com/fieldgrid/servicedesk/internal/migrations"
	"github.com/fieldgrid/servicedesk/internal/notify"
	"github.com/fieldgrid/servicedesk/internal/recovery"
	"github.com/fieldgrid/servicedesk/internal/repository"
	"github.com/fieldgrid/servicedesk/internal/workflow"
)

// Start boots the workflow engine, its background workers, and the HTTP
// server. This call blocks until the HTTP server stops or ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, mux *http.ServeMux) error {
	dialect := repository.Dialect(cfg.Database.Type)
	dsn, migrateURL := databaseURLs(cfg)

	slog.Info("Running migrations", "dialect", string(dialect))
	if err := runMigrationsFromEmbed(migrationsDir(dialect), migrateURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		return err
	}

	db, err := repository.Connect(dialect, dsn, cfg.Database.MaxConnections)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		return err
	}
	defer db.Close()

	clock := core.NewRealClock()
	locks := core.NewKeyedMutex()
	alerter := recovery.LogAlerter{}

	requestRepo := repository.NewRequestRepository(db, dialect)
	transitionRepo := repository.NewTransitionRepository(db, dialect)
	queueRepo := repository.NewNotificationQueueRepository(db, dialect)
	inventoryRepo := repository.NewInventoryRepository(db, dialect, clock)
	staffRepo := repository.NewStaffRepository(db, dialect)

	registry := workflow.NewRegistry()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		slog.Error("Notifier setup failed", "error", err)
		return err
	}

	policy := recovery.RetryPolicy{
		BaseDelay:         cfg.Engine.RetryBase(),
		BackoffMultiplier: cfg.Engine.RetryBackoffMultiplier,
		MaxDelay:          cfg.Engine.RetryMax(),
		MaxRetries:        cfg.Engine.RetryMaxAttempts,
		Jitter:            true,
	}
	retrier := recovery.NewNotificationRetrier(queueRepo, notifier, policy, clock, alerter)
	reconciler := recovery.NewReconciler(inventoryRepo, requestRepo, clock, alerter)
	recoveryMgr := recovery.NewManager(requestRepo, transitionRepo, registry, clock, locks, alerter)

	eng := engine.New(registry, requestRepo, transitionRepo, notifier, retrier, inventoryRepo, alerter, clock, locks)

	go retrier.Run(ctx, cfg.Engine.RetryPoll())
	go reconciler.Run(ctx, cfg.Engine.Reconcile())
	go recoveryMgr.RunStuckScan(ctx, cfg.Engine.StuckScan(), cfg.Engine.StuckThreshold())

	if mux == nil {
		mux = http.NewServeMux()
	}
	requestsController := controllers.NewRequestsController(eng, staffRepo)
	requestsController.RegisterRoutes(mux)
	recoveryController := controllers.NewRecoveryController(recoveryMgr, staffRepo, cfg.Engine.StuckAfterHours)
	recoveryController.RegisterRoutes(mux)

	slog.Info("Starting HTTP server", "addr", cfg.HTTP.Addr)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

type notificationSender interface {
	engine.NotificationSender
	recovery.Sender
}

func buildNotifier(cfg *config.Config) (notificationSender, error) {
	if cfg.Telegram.Token == "" {
		slog.Info("No telegram token configured, notifications go to the log")
		return notify.LogSender{}, nil
	}
	return notify.NewTelegramSender(cfg.Telegram.Token, cfg.Telegram.RoleChats, cfg.Telegram.AdminChatID)
}

// databaseURLs returns the driver DSN and the migrate source URL for the
// configured backend.
func databaseURLs(cfg *config.Config) (dsn string, migrateURL string) {
	switch repository.Dialect(cfg.Database.Type) {
	case repository.DialectSQLite:
		return cfg.Database.SQLiteFile, "sqlite3://" + cfg.Database.SQLiteFile
	case repository.DialectMySQL:
		// migrate wants the mysql:// prefix, the driver does not
		return strings.TrimPrefix(cfg.Database.URL, "mysql://"), cfg.Database.URL
	default:
		return cfg.Database.URL, cfg.Database.URL
	}
}

func migrationsDir(d repository.Dialect) string {
	switch d {
	case repository.DialectPostgres:
		return "postgres"
	case repository.DialectMySQL:
		return "mysql"
	default:
		return "sqllite3"
	}
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// SetupLogger installs the tinted slog handler as the process default.
func SetupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
