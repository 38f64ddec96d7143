// Package httpapi exposes the sharekeeper services over HTTP. Requests other
// than registration and the handshake must carry a valid signature made
// with the session key of a completed handshake.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/httpsig"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/atomic"
)

// RequestVerifier authenticates a signed request. It returns (nil, nil) for
// a request without signature headers.
type RequestVerifier interface {
	Verify(r *http.Request) (*httpsig.Identity, error)
}

type Config struct {
	ListenAddr        string
	ShutdownTimeout   time.Duration
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	Logger            *logging.SlogLogger
}

type Server struct {
	cfg      *Config
	isReady  atomic.Bool
	logger   logging.Logger
	verifier RequestVerifier
	services Services
	srv      *http.Server
}

func New(cfg *Config, v RequestVerifier, svc Services) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   cfg.Logger.With("module", "http_server"),
		verifier: v,
		services: svc,
	}
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(s.httpLogger)

	mux.Get("/livez", s.handleLivenessCheck)
	mux.Get("/readyz", s.handleReadinessCheck)

	mux.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequestSize(maxBodySize))
		r.Use(s.requestScope)

		r.Post("/accounts", s.handleRegister)
		r.Post("/handshakes", s.handleStartHandshake)
		r.Post("/handshakes/{id}/finish", s.handleFinishHandshake)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/session", s.handleGetSession)
			r.Delete("/session", s.handleSignOut)
			r.Get("/account", s.handleGetAccount)
			r.Put("/account/password", s.handleChangePassword)
			r.Get("/connections", s.handleListConnections)

			r.Get("/secrets", s.handleListSecrets)
			r.Post("/secrets", s.handleCreateSecret)
			r.Route("/secrets/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSecret)
				r.Put("/", s.handleUpdateSecret)
				r.Delete("/", s.handleDeleteSecret)
				r.Get("/access", s.handleListAccess)
				r.Post("/recipients", s.handleGrantPreview)
				r.Post("/recipients/{kind}/{rid}/{action}", s.handleOwnerAction)
				r.Delete("/recipients/{kind}/{rid}", s.handleRevoke)
				r.Post("/attachment", s.handleUploadURL)
				r.Put("/attachment", s.handleMarkUploaded)
				r.Get("/attachment", s.handleDownloadURL)
				r.Post("/{action}", s.handleSelfAction)
			})

			r.Post("/invites", s.handleCreateInvite)
			r.Get("/invites", s.handleListInvites)
			r.Post("/invites/lookup", s.handleLookupInvite)
			r.Post("/invites/claim", s.handleClaimInvite)
			r.Delete("/invites/{id}", s.handleExpireInvite)
		})
	})
	return mux
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.cfg.Logger.Slog(), next)
}

func (s *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !s.isReady.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.isReady.Store(false)
		s.logger.Info(ctx, "Stopping HTTP server...")

		sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(sctx); err != nil {
			s.logger.Error(ctx, "graceful HTTP server shutdown failed", "error", err)
		}
	}()

	s.isReady.Store(true)
	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := s.srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}
