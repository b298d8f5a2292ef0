package server

import (
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/clawdeck/clawdeck/internal/auth"
	"github.com/clawdeck/clawdeck/internal/bridge"
	"github.com/clawdeck/clawdeck/internal/database"
	"github.com/clawdeck/clawdeck/internal/gateway"
	"github.com/clawdeck/clawdeck/internal/handlers"
	mw "github.com/clawdeck/clawdeck/internal/middleware"
	"github.com/clawdeck/clawdeck/internal/pipeline"
	"github.com/clawdeck/clawdeck/internal/proxy"
	"github.com/clawdeck/clawdeck/internal/secrets"
	"github.com/clawdeck/clawdeck/internal/webhook"
)

type Server struct {
	Router  *chi.Mux
	DB      *database.DB
	Auth    *auth.Service
	Hub     *bridge.Hub
	Gateway *gateway.Client
	Engine  *pipeline.Engine
}

type Config struct {
	DB           *database.DB
	Auth         *auth.Service
	SecretsStore *secrets.Store
	Gateway      *gateway.Client
	Hub          *bridge.Hub
	Engine       *pipeline.Engine
	GatewayProxy *proxy.Handler
	Webhook      *webhook.Handler
	FrontendFS   fs.FS
	Version      string
}

func New(cfg Config, settingsHandler *handlers.SettingsHandler) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		DB:      cfg.DB,
		Auth:    cfg.Auth,
		Hub:     cfg.Hub,
		Gateway: cfg.Gateway,
		Engine:  cfg.Engine,
	}

	s.setupMiddleware()
	s.setupRoutes(cfg, settingsHandler)
	s.setupFrontend(cfg.FrontendFS)

	return s
}

func (s *Server) setupMiddleware() {
	s.Router.Use(chiMiddleware.RealIP)
	s.Router.Use(mw.RequestID)
	s.Router.Use(mw.SecurityHeaders)
	s.Router.Use(mw.Logger)
	s.Router.Use(mw.CORS)
	s.Router.Use(chiMiddleware.Recoverer)
}

func (s *Server) setupRoutes(cfg Config, settingsHandler *handlers.SettingsHandler) {
	authHandler := handlers.NewAuthHandler(s.DB, s.Auth)
	setupHandler := handlers.NewSetupHandler(s.DB, s.Auth)
	threadsHandler := handlers.NewThreadsHandler(s.DB)
	pipelinesHandler := handlers.NewPipelinesHandler(s.DB, s.Engine)
	agentsHandler := handlers.NewAgentsHandler(s.Gateway)
	sessionsHandler := handlers.NewSessionsHandler(s.Gateway)
	secretsHandler := handlers.NewSecretsHandler(cfg.SecretsStore)
	systemHandler := handlers.NewSystemHandler(s.Gateway, cfg.Version)

	s.Router.Route("/api/v1", func(r chi.Router) {
		// Public routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.With(mw.RateLimit(10, time.Minute)).Post("/login", authHandler.Login)
		})

		r.Route("/setup", func(r chi.Router) {
			r.With(mw.RateLimit(5, time.Minute)).Get("/status", setupHandler.Status)
			r.With(mw.RateLimit(5, time.Minute)).Post("/init", setupHandler.Init)
		})

		r.Get("/system/health", systemHandler.Health)

		// Webhook ingress authenticates with its HMAC signature, not a session.
		if cfg.Webhook != nil {
			r.With(mw.RateLimit(60, time.Minute)).Post("/webhooks/issues", cfg.Webhook.HandleIssue)
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(s.Auth))
			r.Use(mw.CSRFProtection)

			r.Post("/auth/logout", authHandler.Logout)
			r.Post("/auth/change-password", authHandler.ChangePassword)
			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/ws-ticket", authHandler.WSTicket)

			r.Route("/threads", func(r chi.Router) {
				r.Get("/", threadsHandler.List)
				r.Post("/", threadsHandler.Create)
				r.Get("/{id}", threadsHandler.Get)
				r.Put("/{id}", threadsHandler.Rename)
				r.Put("/{id}/archive", threadsHandler.Archive)

				r.Post("/{id}/pipeline/start", pipelinesHandler.Start)
				r.Post("/{id}/pipeline/advance", pipelinesHandler.Advance)
				r.Post("/{id}/pipeline/fail", pipelinesHandler.Fail)
				r.Post("/{id}/pipeline/retry", pipelinesHandler.Retry)
				r.Post("/{id}/pipeline/cancel", pipelinesHandler.Cancel)
				r.Get("/{id}/pipeline", pipelinesHandler.GetState)
			})

			r.Route("/pipeline-templates", func(r chi.Router) {
				r.Get("/", pipelinesHandler.ListTemplates)
				r.Post("/", pipelinesHandler.CreateTemplate)
				r.Put("/{id}", pipelinesHandler.UpdateTemplate)
				r.Delete("/{id}", pipelinesHandler.DeleteTemplate)
			})

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", agentsHandler.List)
				r.Post("/", agentsHandler.Create)
				r.Put("/{id}", agentsHandler.Update)
				r.Delete("/{id}", agentsHandler.Delete)
				r.Get("/{id}/file", agentsHandler.GetFile)
				r.Put("/{id}/file", agentsHandler.SetFile)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionsHandler.List)
				r.Get("/{key}/history", sessionsHandler.History)
				r.Post("/{key}/send", sessionsHandler.Send)
				r.Post("/{key}/abort", sessionsHandler.Abort)
				r.Post("/{key}/inject", sessionsHandler.InjectContext)
			})

			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", sessionsHandler.ListApprovals)
				r.Post("/{id}/resolve", sessionsHandler.ResolveApproval)
			})

			r.Get("/channels", sessionsHandler.ListChannels)

			r.Route("/secrets", func(r chi.Router) {
				r.Get("/", secretsHandler.List)
				r.Post("/", secretsHandler.Set)
				r.Delete("/{name}", secretsHandler.Delete)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Get("/connection", settingsHandler.GetConnection)
				r.Put("/connection", settingsHandler.UpdateConnection)
			})

			r.Get("/system/gateway", systemHandler.GatewayStatus)
		})
	})

	// WebSocket endpoints authenticate internally (cookie, bearer or ticket).
	s.Router.Get("/ws/events", s.Hub.HandleWS)
	if cfg.GatewayProxy != nil {
		s.Router.Get("/ws/gateway", cfg.GatewayProxy.HandleWS)
	}
}

// setupFrontend serves the embedded UI bundle with an SPA fallback.
func (s *Server) setupFrontend(frontend fs.FS) {
	if frontend == nil {
		return
	}
	fileServer := http.FileServer(http.FS(frontend))
	s.Router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") {
			http.NotFound(w, r)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path != "" {
			if f, err := frontend.Open(path); err == nil {
				f.Close()
				fileServer.ServeHTTP(w, r)
				return
			}
		}
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
