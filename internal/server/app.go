// Package server wires the sharekeeper server together: it opens the
// database, applies migrations, builds the services and runs the HTTP API
// with a background janitor until the process is signalled.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/httpsig"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/dmitrijs2005/sharekeeper/internal/notify"
	"github.com/dmitrijs2005/sharekeeper/internal/server/config"
	"github.com/dmitrijs2005/sharekeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sharekeeper/internal/server/services"
)

type App struct {
	config  *config.Config
	logger  *logging.SlogLogger
	db      *sql.DB
	http    *httpapi.Server
	janitor *Janitor
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	logger := logging.New(os.Stdout, logging.Options{Level: c.LogLevel, JSON: true})

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	notifier := notify.NewLogNotifier(logger.With("module", "notify"))
	auth := services.NewAuthService(db, rm, c, logger.With("module", "auth"))
	sharing := services.NewSharingService(db, rm, notifier, logger.With("module", "sharing"))
	invites := services.NewInviteService(db, rm, notifier, c, logger.With("module", "invites"))
	attachments := services.NewAttachmentService(db, rm, c, logger.With("module", "attachments"))

	srv := httpapi.New(&httpapi.Config{
		ListenAddr:        c.ListenAddr,
		ShutdownTimeout:   c.ShutdownTimeout,
		ReadTimeout:       c.ReadTimeout,
		ReadHeaderTimeout: c.ReadHeaderTimeout,
		WriteTimeout:      c.WriteTimeout,
		Logger:            logger,
	}, httpsig.NewVerifier(auth, c.SignatureConfig()), httpapi.Services{
		Auth:        auth,
		Sharing:     sharing,
		Invites:     invites,
		Attachments: attachments,
	})

	return &App{
		config:  c,
		logger:  logger,
		db:      db,
		http:    srv,
		janitor: NewJanitor(auth, invites, c.PurgeInterval, logger.With("module", "janitor")),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server failed", "error", err)
		cancelFunc()
	}
}

// Run blocks until the process is signalled or the HTTP server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.janitor.Run(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing database", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}

// HandshakePurger drops stale handshakes.
type HandshakePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// InviteExpirer retires invites past their deadline.
type InviteExpirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Janitor periodically removes expired handshakes and invites.
type Janitor struct {
	handshakes HandshakePurger
	invites    InviteExpirer
	interval   time.Duration
	logger     logging.Logger
}

func NewJanitor(h HandshakePurger, i InviteExpirer, interval time.Duration, logger logging.Logger) *Janitor {
	return &Janitor{handshakes: h, invites: i, interval: interval, logger: logger}
}

// Run sweeps once per interval until ctx is done. A non-positive interval
// disables the janitor.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one cleanup pass. Failures are logged and retried on the next
// tick.
func (j *Janitor) Sweep(ctx context.Context) {
	if n, err := j.handshakes.PurgeExpired(ctx); err != nil {
		j.logger.Error(ctx, "purging handshakes", "error", err)
	} else if n > 0 {
		j.logger.Info(ctx, "purged handshakes", "count", n)
	}

	if n, err := j.invites.ExpireOverdue(ctx); err != nil {
		j.logger.Error(ctx, "expiring invites", "error", err)
	} else if n > 0 {
		j.logger.Info(ctx, "expired invites", "count", n)
	}
}
