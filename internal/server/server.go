// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: New builds every collaborator from
// the configuration (database, session backend, media host, identity
// provider, federation, scope registry) and hands each layer only the
// interfaces it needs. Handlers get the registry, managers get repositories,
// nothing reaches for a global.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/tinkapp/tink/internal/auth"
	"github.com/tinkapp/tink/internal/config"
	"github.com/tinkapp/tink/internal/handler"
	"github.com/tinkapp/tink/internal/media"
	"github.com/tinkapp/tink/internal/middleware"
	sqliteRepo "github.com/tinkapp/tink/internal/repository/sqlite"
	"github.com/tinkapp/tink/internal/scope"
	"github.com/tinkapp/tink/internal/session"
)

// Server represents the HTTP server and all its dependencies.
//
// It owns the database, the session backend and the scope registry and
// releases them, in reverse order of creation, when it stops.
type Server struct {
	router   *chi.Mux
	config   *config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	registry *scope.Registry
	closers  []io.Closer
}

// New wires the application from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setup(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// Handler returns the root handler. Tests serve it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the device scope registry.
func (s *Server) Registry() *scope.Registry {
	return s.registry
}

func (s *Server) setup() error {
	cfg := s.config

	kv, err := s.sessionKV()
	if err != nil {
		return fmt.Errorf("opening session backend: %w", err)
	}

	host, localMedia, err := s.mediaHost()
	if err != nil {
		return fmt.Errorf("creating media host: %w", err)
	}

	idTokens, err := auth.NewTokenService(cfg.JWTSecret, auth.IssuerID, cfg.IDTokenTTL)
	if err != nil {
		return err
	}
	deviceTokens, err := auth.NewTokenService(cfg.JWTSecret, auth.IssuerDevice, cfg.DeviceTokenTTL)
	if err != nil {
		return err
	}
	resetTokens, err := auth.NewTokenService(cfg.JWTSecret, auth.IssuerReset, cfg.ResetTokenTTL)
	if err != nil {
		return err
	}

	provider := auth.NewLocalProvider(auth.LocalProviderConfig{
		Accounts:    s.db,
		Passwords:   auth.NewPasswordService(),
		IDTokens:    idTokens,
		ResetTokens: resetTokens,
		Mailer:      s.mailer(),
		ResetURL:    cfg.ResetURL,
		Logger:      s.logger,
	})

	s.registry = scope.NewRegistry(scope.Deps{
		Users:      s.db,
		Skills:     s.db,
		Categories: s.db,
		Chats:      s.db,
		ChatFeed:   s.db,
		Provider:   provider,
		Media:      host,
		KV:         kv,
		Logger:     s.logger,
		IdleTTL:    cfg.ScopeIdleTTL,
	})

	s.routes(deviceTokens, s.federation(), localMedia)
	return nil
}

func (s *Server) sessionKV() (session.KV, error) {
	switch s.config.SessionBackend {
	case config.SessionRedis:
		kv, err := session.NewRedisKV(s.config.RedisURL, s.config.RedisPrefix)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, kv)
		return kv, nil
	case config.SessionMemory:
		s.logger.Warn("session backend is in memory, sessions will not survive a restart")
		return session.NewMemoryKV(), nil
	default:
		return s.db.KV(), nil
	}
}

// mediaHost returns Cloudinary when configured, else a local directory that
// this server serves under /media. The second value is that directory.
func (s *Server) mediaHost() (media.Host, *media.LocalDir, error) {
	if s.config.UseCloudinary() {
		host, err := media.NewCloudinary(s.config.CloudinaryCloud, s.config.CloudinaryKey, s.config.CloudinarySecret)
		if err != nil {
			return nil, nil, err
		}
		return host, nil, nil
	}
	dir, err := media.NewLocalDir(s.config.MediaDir, s.config.BaseURL+"/media")
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("storing images locally", slog.String("dir", dir.Dir()))
	return dir, dir, nil
}

func (s *Server) mailer() auth.Mailer {
	if s.config.SMTPHost == "" {
		s.logger.Warn("SMTP_HOST not set, password reset links are only logged")
		return &auth.LogMailer{Logger: s.logger}
	}
	return &auth.SMTPMailer{
		Host:     s.config.SMTPHost,
		Port:     s.config.SMTPPort,
		Username: s.config.SMTPUser,
		Password: s.config.SMTPPassword,
		From:     s.config.SMTPFrom,
	}
}

func (s *Server) federation() *auth.Federation {
	cfg := s.config
	var providers []auth.OAuthProvider
	if cfg.GoogleEnabled() {
		providers = append(providers, auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CallbackURL("google")))
	}
	if cfg.AppleEnabled() {
		providers = append(providers, auth.NewAppleProvider(cfg.AppleClientID, cfg.AppleClientSecret, cfg.CallbackURL("apple")))
	}
	return auth.NewFederation(providers...)
}

// routes configures middleware and handlers.
//
// ROUTE STRUCTURE:
//
//	POST   /api/devices                      register a device (no token needed)
//	GET    /api/auth/state[/ws]              AuthState (WebSocket stream on /ws)
//	POST   /api/auth/signin|signup|signout   email/password flows
//	POST   /api/auth/reset[/confirm]         password reset
//	POST   /api/auth/reauthenticate
//	GET    /api/auth/{provider}/login        Google / Apple redirect
//	GET    /api/auth/{provider}/callback     (POST too, for Apple)
//	GET    /api/session[/ws]                 Session Store
//	PUT    /api/session/preferences
//	PUT    /api/profile, /api/profile/image
//	DELETE /api/account
//	GET    /api/categories
//	GET    /api/skills, /api/skills/mine
//	POST   /api/skills
//	PUT    /api/skills/{id}
//	DELETE /api/skills/{id}
//	GET    /api/chats[/ws]
//	POST   /api/chats
//	POST   /api/chats/{id}/messages
//	GET    /api/chats/{id}/ws
//	GET    /media/*                          local images (no Cloudinary)
//
// Middleware runs in the order it is added: request id, real ip, panic
// recovery, request logging, CORS.
func (s *Server) routes(deviceTokens *auth.TokenService, federation *auth.Federation, localMedia *media.LocalDir) {
	cfg := s.config

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	if localMedia != nil {
		fileServer := http.FileServer(http.Dir(localMedia.Dir()))
		s.router.Handle("/media/*", http.StripPrefix("/media/", fileServer))
	}

	streamer := handler.NewStreamer(cfg.CORSOrigins, s.logger)

	devices := handler.NewDeviceHandler(deviceTokens, cfg.DeviceTokenTTL, cfg.SecureCookie, s.logger)
	authH := handler.NewAuthHandler(s.registry, federation, streamer, cfg.SecureCookie, s.logger)
	sessionH := handler.NewSessionHandler(s.registry, streamer, s.logger)
	profile := handler.NewProfileHandler(s.registry, s.logger)
	catalog := handler.NewCatalogHandler(s.registry, s.logger)
	chats := handler.NewChatHandler(s.registry, streamer, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/devices", devices.HandleRegister)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireDevice(deviceTokens))
			r.Use(middleware.DeviceLogger(s.logger))

			r.Get("/auth/state", authH.HandleState)
			r.Get("/auth/state/ws", authH.HandleStateStream)
			r.Post("/auth/signin", authH.HandleSignIn)
			r.Post("/auth/signup", authH.HandleSignUp)
			r.Post("/auth/reset", authH.HandleResetPassword)
			r.Post("/auth/reset/confirm", authH.HandleConfirmReset)
			r.Post("/auth/signout", authH.HandleSignOut)
			r.Post("/auth/reauthenticate", authH.HandleReauthenticate)
			r.Get("/auth/{provider}/login", authH.HandleFederatedLogin)
			r.Get("/auth/{provider}/callback", authH.HandleFederatedCallback)
			r.Post("/auth/{provider}/callback", authH.HandleFederatedCallback)

			r.Get("/session", sessionH.HandleGet)
			r.Get("/session/ws", sessionH.HandleStream)
			r.Put("/session/preferences", sessionH.HandlePreferences)

			r.Put("/profile", profile.HandleUpdate)
			r.Put("/profile/image", profile.HandleUploadImage)
			r.Delete("/account", profile.HandleDeleteAccount)

			r.Get("/categories", catalog.HandleCategories)
			r.Get("/skills", catalog.HandleList)
			r.Get("/skills/mine", catalog.HandleMine)
			r.Post("/skills", catalog.HandleCreate)
			r.Put("/skills/{id}", catalog.HandleUpdate)
			r.Delete("/skills/{id}", catalog.HandleDelete)

			r.Get("/chats", chats.HandleList)
			r.Get("/chats/ws", chats.HandleListStream)
			r.Post("/chats", chats.HandleCreate)
			r.Post("/chats/{id}/messages", chats.HandleSend)
			r.Get("/chats/{id}/ws", chats.HandleMessagesStream)
		})
	})
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully:
//  1. stop accepting connections and wait up to 30s for in-flight requests
//  2. close every device scope (stops live streams)
//  3. close the session backend and the database
//
// WriteTimeout is left unset: WebSocket streams are long-lived and set their
// own per-frame deadlines.
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.BaseURL),
			slog.String("database", s.config.DBPath),
			slog.String("sessions", s.config.SessionBackend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown; closing
		// the scopes ends their streams.
		srv.RegisterOnShutdown(s.registry.Close)

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// close releases everything New acquired. Safe to call on a partially built
// server.
func (s *Server) close() {
	if s.registry != nil {
		s.registry.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("closing resource failed", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database failed", slog.String("error", err.Error()))
	}
}

// Close releases the server's resources without starting it. Used by tests.
func (s *Server) Close() {
	s.close()
}
