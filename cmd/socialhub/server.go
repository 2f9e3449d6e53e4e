package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"socialhub/internal/constants"
	apperrors "socialhub/internal/errors"
	"socialhub/internal/features"
	"socialhub/internal/middleware"
	"socialhub/internal/models"
	"socialhub/internal/privacy"
	"socialhub/internal/service"
	"socialhub/internal/tracing"
	"socialhub/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ServerDeps are the components the HTTP surface is built on
type ServerDeps struct {
	Messages    *service.MessageService
	Credentials *service.CredentialService
	Processor   *webhook.Processor
	Live        http.Handler
	Features    *features.FlagManager
}

type Server struct {
	cfg         *models.Config
	router      *mux.Router
	logger      *logrus.Logger
	messages    *service.MessageService
	credentials *service.CredentialService
	processor   *webhook.Processor
	live        http.Handler
	flags       *features.FlagManager
	limiter     *RateLimiter
	verbose     bool
	server      *http.Server
}

func NewServer(cfg *models.Config, deps ServerDeps, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		cfg:         cfg,
		router:      mux.NewRouter(),
		logger:      logger,
		messages:    deps.Messages,
		credentials: deps.Credentials,
		processor:   deps.Processor,
		live:        deps.Live,
		flags:       deps.Features,
		limiter:     NewRateLimiter(constants.DefaultAPIRateLimit, time.Duration(constants.DefaultAPIRateWindowSec)*time.Second),
		verbose:     verbose,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if s.verbose {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	if s.live != nil && s.flags.IsEnabled(features.FlagLiveUpdates) {
		s.router.Handle("/ws", s.live).Methods(http.MethodGet)
	}

	whatsapp := s.router.PathPrefix("/webhook/whatsapp").Subrouter()
	whatsapp.Use(middleware.WebhookObservabilityMiddleware(s.logger, "whatsapp"))
	whatsapp.HandleFunc("", s.handleWhatsAppVerify()).Methods(http.MethodGet)
	whatsapp.HandleFunc("", s.handleWhatsAppWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()
	if s.flags.IsEnabled(features.FlagAPIRateLimiting) {
		api.Use(s.limiter.Middleware(s.logger))
	}
	api.HandleFunc("/contacts", s.handleContacts()).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handlePostMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{contact}", s.handleMessages()).Methods(http.MethodGet)

	tokens := api.PathPrefix("/tokens").Subrouter()
	tokens.Use(s.requireAPIKey)
	tokens.HandleFunc("/refresh", s.handleRefresh()).Methods(http.MethodPost)
	tokens.HandleFunc("/{platform}/verify", s.handleVerify()).Methods(http.MethodPost)
	tokens.HandleFunc("/{platform}/connect", s.handleConnect()).Methods(http.MethodPost)
	tokens.HandleFunc("/{user}", s.handleListCredentials()).Methods(http.MethodGet)
	tokens.HandleFunc("/{user}/{platform}/{account}", s.handleGetCredential()).Methods(http.MethodGet)
	tokens.HandleFunc("/{user}/{platform}/{account}", s.handleDeleteCredential()).Methods(http.MethodDelete)
}

func (s *Server) Start() error {
	port := s.cfg.Server.Port
	if port <= 0 {
		port = constants.DefaultServerPort
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  seconds(s.cfg.Server.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec),
		WriteTimeout: seconds(s.cfg.Server.WriteTimeoutSec, constants.DefaultServerWriteTimeoutSec),
		IdleTimeout:  seconds(s.cfg.Server.IdleTimeoutSec, constants.DefaultServerIdleTimeoutSec),
	}

	s.logger.WithField("port", port).Info("Starting server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// cleanupLoop prunes idle rate limiter entries until ctx is done
func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(constants.DefaultAPIRateWindowSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(); n > 0 {
				s.logger.WithField("removed", n).Debug("Pruned idle rate limiter entries")
			}
		}
	}
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validAPIKey(apiKeyFromRequest(r), s.cfg.Server.APIKey) {
			s.writeError(w, r, apperrors.NewAuthError("invalid or missing api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

// writeError renders err. Server-side failures are logged with the request
// and user ids; the response body only carries the error's own context.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	response := apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context()))
	if status >= http.StatusInternalServerError {
		ctx := r.Context()
		if user := mux.Vars(r)["user"]; user != "" {
			ctx = apperrors.WithUserID(ctx, privacy.MaskUserID(user))
		}
		logged := err
		if appErr, ok := apperrors.As(err); ok {
			logged = apperrors.WithContextFromRequest(appErr, ctx)
		}
		apperrors.NewLogger(s.logger).LogError(logged, "Request failed", logrus.Fields{"path": r.URL.Path})
	}
	s.writeJSON(w, status, response)
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
}
