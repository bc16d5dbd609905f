package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sentryhq/ueba/internal/config"
	"github.com/sentryhq/ueba/internal/dedup"
	"github.com/sentryhq/ueba/internal/notifications"
	"github.com/sentryhq/ueba/internal/reports"
	"github.com/sentryhq/ueba/internal/scheduler"
	"github.com/sentryhq/ueba/internal/scoring"
	"github.com/sentryhq/ueba/internal/store"
	"github.com/sentryhq/ueba/internal/threat"
)

type Server struct {
	cfg    *config.Config
	router *chi.Mux
	http   *http.Server
	logger *slog.Logger

	store threat.Store
	pg    *store.Store

	service   *threat.Service
	scheduler *scheduler.Scheduler

	reportGenerator *reports.Generator

	notificationService *notifications.Service

	models scoring.Models
	memory bool

	closers []func() error
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMemoryBackend runs the server against in-process storage instead of
// Postgres. Used by tests and demo mode.
func WithMemoryBackend() ServerOption {
	return func(s *Server) {
		s.memory = true
	}
}

// WithScoringModels overrides the bundled model ensemble.
func WithScoringModels(m scoring.Models) ServerOption {
	return func(s *Server) {
		s.models = m
	}
}

func NewServer(cfg *config.Config, opts ...ServerOption) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: slog.Default(),
		models: scoring.NewPretrainedEnsemble(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.memory {
		s.store = store.NewMemory()
	} else {
		pg, err := store.New(store.Config{
			DSN:          cfg.Database.DSN(),
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		s.pg = pg
		s.store = pg
		s.closers = append(s.closers, pg.Close)
	}

	fpStore, err := s.newFingerprintStore()
	if err != nil {
		return nil, err
	}
	dedupEngine := dedup.New(fpStore, cfg.Dedup.Window, s.logger)

	scorer := scoring.NewScorer(s.models, scoring.WithLogger(s.logger))

	serviceOpts := []threat.ServiceOption{threat.WithServiceLogger(s.logger)}
	if cfg.Notifications.Slack.Enabled || cfg.Notifications.Email.Enabled {
		s.notificationService = notifications.NewService(notifications.Config{
			Slack: notifications.SlackConfig{
				WebhookURL:  cfg.Notifications.Slack.WebhookURL,
				Channel:     cfg.Notifications.Slack.Channel,
				Username:    "UEBA Bot",
				IconEmoji:   ":rotating_light:",
				Enabled:     cfg.Notifications.Slack.Enabled,
				MinSeverity: cfg.Notifications.MinSeverity,
			},
			Email: notifications.EmailConfig{
				SMTPHost:    cfg.Notifications.Email.SMTPHost,
				SMTPPort:    cfg.Notifications.Email.SMTPPort,
				Username:    cfg.Notifications.Email.Username,
				Password:    cfg.Notifications.Email.Password,
				From:        cfg.Notifications.Email.From,
				To:          cfg.Notifications.Email.To,
				Enabled:     cfg.Notifications.Email.Enabled,
				MinSeverity: cfg.Notifications.MinSeverity,
			},
		}, s.logger)
		serviceOpts = append(serviceOpts, threat.WithNotifier(s.notificationService))
	}

	s.service = threat.NewService(s.store, dedupEngine, scorer, threat.Config{
		ScoringWindow:       cfg.Scoring.Window,
		AlertMinConfidence:  cfg.Scoring.AlertMinConfidence,
		AlertMinITS:         cfg.Scoring.AlertMinITS,
		EscalateMinITS:      cfg.Scoring.EscalateMinITS,
		IncidentDedupWindow: time.Hour,
	}, serviceOpts...)

	s.scheduler = scheduler.NewScheduler(s.logger)
	s.reportGenerator = reports.NewGenerator(s.service, s.logger)

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) newFingerprintStore() (dedup.Store, error) {
	switch s.cfg.Dedup.Backend {
	case "redis":
		rs, err := dedup.NewRedisStore(dedup.RedisConfig{
			Addr:     s.cfg.Redis.Addr(),
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing redis dedup store: %w", err)
		}
		s.closers = append(s.closers, rs.Close)
		return rs, nil
	case "postgres":
		if s.pg == nil {
			s.logger.Warn("postgres dedup backend requires a postgres store, falling back to memory")
			return dedup.NewMemoryStore(), nil
		}
		return s.pg, nil
	default:
		return dedup.NewMemoryStore(), nil
	}
}

// Service exposes the threat service for callers embedding the server,
// such as the demo seeder.
func (s *Server) Service() *threat.Service {
	return s.service
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(s.corsMiddleware())
}

func (s *Server) corsMiddleware() func(http.Handler) http.Handler {
	allowOrigin := s.cfg.Server.CORSAllowOrigin
	if allowOrigin == "" {
		allowOrigin = "*"
		s.logger.Warn("CORS Allow-Origin set to '*' - configure server.cors_allow_origin in production")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/activities", s.submitActivity)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.listUsers)
			r.Post("/", s.registerUser)
			r.Get("/{userID}/score", s.getUserScore)
			r.Get("/{userID}/history", s.getUserHistory)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.listAlerts)
			r.Post("/mark-viewed", s.markAlertsViewed)
			r.Post("/{alertID}/escalate", s.escalateAlert)
		})

		r.Route("/incidents", func(r chi.Router) {
			r.Get("/", s.listIncidents)
			r.Post("/", s.createIncident)
			r.Patch("/{incidentID}/status", s.updateIncidentStatus)
			r.Post("/{incidentID}/resolve", s.resolveIncident)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/summary", s.getDashboardSummary)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Post("/generate", s.generateReport)
		})
	})
}

func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Scheduler.Enabled {
		err := s.scheduler.Register("daily_snapshot", s.cfg.Scheduler.SnapshotSpec, s.service.SnapshotAll)
		if err != nil {
			return fmt.Errorf("registering snapshot job: %w", err)
		}
		s.scheduler.Start()
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := s.http.Shutdown(shutdownCtx)
		for _, closeFn := range s.closers {
			if cerr := closeFn(); cerr != nil {
				s.logger.Error("closing resource", "error", cerr)
			}
		}
		return err
	}
}

// Handler returns the root router, used by httptest in API tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    *apiMeta    `json:"meta,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiMeta struct {
	Total  int `json:"total,omitempty"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondJSONWithMeta(w http.ResponseWriter, status int, data interface{}, meta *apiMeta) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    meta,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) readyCheck(w http.ResponseWriter, r *http.Request) {
	if s.pg != nil {
		if err := s.pg.Ping(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "db_unavailable", "Database not available")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
