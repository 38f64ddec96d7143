package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/client/client"
	"github.com/dmitrijs2005/sharekeeper/internal/client/config"
	"github.com/dmitrijs2005/sharekeeper/internal/client/services"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/cryptox"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/dmitrijs2005/sharekeeper/internal/netx"
	"github.com/fatih/color"
	"go.uber.org/atomic"
)

type Mode string

const (
	ModeUnknown Mode = ""
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// errNotLoggedIn is returned by commands that need a session when this
// machine has none cached.
var errNotLoggedIn = errors.New("not logged in, run 'login' first")

// getPassword is an indirection used to facilitate testing.
var getPassword = GetPassword

// App holds the services and the signed-in session shared by every command
// of one process.
type App struct {
	auth  services.AuthService
	vault services.VaultService
	db    *sql.DB

	session       *services.Session
	mode          atomic.String
	checkInterval time.Duration

	reader *bufio.Reader
	out    io.Writer
	logger logging.Logger
}

func newApp(in io.Reader, out io.Writer) *App {
	return &App{reader: bufio.NewReader(in), out: out, logger: logging.Nop()}
}

// init opens the session cache and connects the services to the server
// named in cfg.
func (a *App) init(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	db, err := client.InitDatabase(ctx, cfg.CacheDSN)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	apiClient := client.NewHTTPClient(cfg.ServerURL, cfg.RequestTimeout)
	transfer := netx.NewTransfer(&http.Client{Timeout: 10 * cfg.RequestTimeout})

	a.db = db
	a.logger = logger
	a.checkInterval = cfg.OnlineCheckInterval
	a.auth = services.NewAuthService(apiClient, db, cryptox.NewKeyDeriver(), logger)
	a.vault = services.NewVaultService(apiClient, db, transfer, logger)
	return nil
}

// Close wipes the session keys and releases the client and the cache.
func (a *App) Close(ctx context.Context) error {
	a.session.Close()
	a.session = nil

	var errs []error
	if a.auth != nil {
		errs = append(errs, a.auth.Close(ctx))
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func (a *App) isLoggedIn() bool {
	return a.session != nil
}

// setSession replaces the current session, wiping the previous one.
func (a *App) setSession(s *services.Session) {
	if a.session != nil && a.session != s {
		a.session.Close()
	}
	a.session = s
}

// ensureSession returns the current session, unlocking the cached one with
// the password when the process has none yet.
func (a *App) ensureSession(ctx context.Context) (*services.Session, error) {
	if a.session != nil {
		return a.session, nil
	}

	email, err := a.auth.CachedEmail(ctx)
	if errors.Is(err, client.ErrNoCachedSession) {
		return nil, errNotLoggedIn
	}
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(a.out, "Unlocking session of %s\n", email)
	password, err := getPassword(a.out, "Password")
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(password)

	s, err := a.auth.Resume(ctx, password)
	if errors.Is(err, client.ErrNoCachedSession) {
		return nil, errNotLoggedIn
	}
	if errors.Is(err, common.ErrAuthFailed) {
		return nil, fmt.Errorf("%w: wrong password or the session has ended, run 'login'", err)
	}
	if err != nil {
		return nil, err
	}
	a.session = s
	return s, nil
}

func (a *App) setMode(mode Mode) {
	if old := a.mode.Swap(string(mode)); old != string(mode) && old != string(ModeUnknown) {
		a.logger.Info(context.Background(), "connectivity changed", "mode", mode)
		fmt.Fprintf(a.out, "\n%s Switched to %s mode\n", color.CyanString("→"), mode)
	}
}

// status is the shell prompt suffix: the signed-in email and the mode.
func (a *App) status() string {
	s := ""
	if a.session != nil {
		s = a.session.Email + " "
	}
	switch Mode(a.mode.Load()) {
	case ModeOnline:
		s += color.GreenString(string(ModeOnline))
	case ModeOffline:
		s += color.RedString(string(ModeOffline))
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// probe pings the server once and records the result.
func (a *App) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := a.auth.Ping(ctx); err != nil {
		a.logger.Debug(ctx, "ping failed", "error", err)
		a.setMode(ModeOffline)
		return
	}
	a.setMode(ModeOnline)
}

// StartOnlineStatusWatcher probes the server every interval until ctx is
// done.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	a.probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// success prints a confirmation line.
func (a *App) success(format string, args ...any) {
	fmt.Fprintf(a.out, "%s %s\n", color.GreenString("✓"), fmt.Sprintf(format, args...))
}

// hint prints a follow-up suggestion.
func (a *App) hint(format string, args ...any) {
	fmt.Fprintf(a.out, "%s %s\n", color.CyanString("→"), fmt.Sprintf(format, args...))
}
