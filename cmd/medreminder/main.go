package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/medreminder/internal/application"
	"github.com/example/medreminder/internal/config"
	httptransport "github.com/example/medreminder/internal/http"
	"github.com/example/medreminder/internal/logging"
	"github.com/example/medreminder/internal/notify"
	"github.com/example/medreminder/internal/persistence"
	"github.com/example/medreminder/internal/persistence/bridge"
	"github.com/example/medreminder/internal/persistence/docstore"
	"github.com/example/medreminder/internal/persistence/memory"
	"github.com/example/medreminder/internal/persistence/sqlite"
)

const shutdownTimeout = 10 * time.Second

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply SQLite migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *migrateOnly {
		err = migrate(ctx, cfg, logger)
	} else {
		err = run(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("medreminder exited with error", "error", err)
		os.Exit(1)
	}
}

// run serves the API until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	app.dispatcher.Start()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("medreminder API listening", "addr", server.Addr, "store", cfg.Store)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil && !errors.Is(shutdownErr, http.ErrServerClosed) {
		logger.Error("failed to shutdown server", "error", shutdownErr)
	}
	if stopErr := app.dispatcher.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("background jobs did not finish", "error", stopErr)
	}
	if _, flushErr := app.notifier.FlushDue(shutdownCtx); flushErr != nil {
		logger.Warn("final reminder flush failed", "error", flushErr)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// migrate applies the SQLite schema and returns.
func migrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	storage, err := sqlite.Open(cfg.SQLiteDSN, logger)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer storage.Close()
	return storage.Migrate(ctx)
}

type app struct {
	handler    http.Handler
	notifier   *notify.Notifier
	dispatcher *notify.Dispatcher
	closers    []io.Closer
	logger     *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("failed to close store", "error", err)
		}
	}
}

// stores is the set of repositories selected by configuration.
type stores struct {
	users       persistence.UserRepository
	sessions    persistence.SessionRepository
	resets      persistence.PasswordResetRepository
	medications persistence.MedicationRepository
	history     persistence.HistoryRepository
	closers     []io.Closer
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	switch cfg.Store {
	case config.StoreMemory:
		store := memory.New()
		logger.Warn("using in-memory store; data is lost on exit")
		return &stores{
			users: store, sessions: store, resets: store,
			medications: store, history: store,
			closers: []io.Closer{store},
		}, nil

	case config.StoreFirestore:
		// Accounts stay in SQLite, medications and history live in Firestore.
		accounts, err := openSQLite(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		docs, err := docstore.Open(ctx, cfg.FirestoreProject)
		if err != nil {
			_ = accounts.Close()
			return nil, fmt.Errorf("open firestore: %w", err)
		}
		return &stores{
			users: accounts, sessions: accounts, resets: accounts,
			medications: docs, history: docs,
			closers: []io.Closer{accounts, docs},
		}, nil

	default:
		storage, err := openSQLite(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &stores{
			users: storage, sessions: storage, resets: storage,
			medications: storage, history: storage,
			closers: []io.Closer{storage},
		}, nil
	}
}

func openSQLite(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sqlite.Storage, error) {
	storage, err := sqlite.Open(cfg.SQLiteDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		return nil, err
	}
	return storage, nil
}

func newSender(cfg config.Config, logger *slog.Logger) (notify.Sender, error) {
	if cfg.SendGridAPIKey == "" {
		logger.Info("no SendGrid key configured; notifications are logged only")
		return notify.NewLogSender(logger), nil
	}
	return notify.NewSendGridSender(cfg.SendGridAPIKey, cfg.NotifyFrom)
}

// build assembles stores, services and the HTTP handler.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{closers: st.closers, logger: logger}

	now := time.Now
	idGenerator := uuid.NewString
	tokenGenerator := func() string { return randomHex(32) }

	users := bridge.NewUsers(st.users)
	medications := bridge.NewMedications(st.medications, now)
	history := bridge.NewHistory(st.history, now)

	sender, err := newSender(cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.notifier = notify.NewNotifier(sender, users, notify.Config{RefillCooldown: cfg.RefillCooldown}, now, logger)

	authService := application.NewAuthServiceWithLogger(
		users,
		bridge.NewSessions(st.sessions),
		bridge.NewPasswordResets(st.resets),
		a.notifier,
		application.AuthServiceConfig{SessionTTL: cfg.SessionTTL, DefaultTimezone: cfg.DefaultTimezone},
		tokenGenerator,
		now,
		logger,
	)
	profileService := application.NewProfileServiceWithLogger(users, now, logger)
	medicationService := application.NewMedicationServiceWithLogger(medications, cfg.DefaultLocation, idGenerator, now, logger)
	doseService := application.NewDoseServiceWithLogger(
		medications,
		history,
		a.notifier,
		application.DoseServiceConfig{DefaultLocation: cfg.DefaultLocation, HistoryLimit: cfg.HistoryLimit},
		idGenerator,
		now,
		logger,
	)
	historyService := application.NewHistoryServiceWithLogger(history, medications, cfg.HistoryLimit, logger)
	dataService := application.NewDataServiceWithLogger(users, medications, medications, history, cfg.DefaultLocation, idGenerator, now, logger)

	a.dispatcher, err = notify.NewDispatcher(a.notifier, authService, cfg.DefaultLocation, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Auth:           httptransport.NewAuthHandler(authService, logger),
		Profile:        httptransport.NewProfileHandler(profileService, logger),
		Medications:    httptransport.NewMedicationHandler(medicationService, logger),
		Doses:          httptransport.NewDoseHandler(doseService, logger),
		History:        httptransport.NewHistoryHandler(historyService, dataService, logger),
		Sessions:       authService,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: 30 * time.Second,
		Logger:         logger,
	})
	return a, nil
}

func randomHex(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
