package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/clawdeck/clawdeck/internal/auth"
	"github.com/clawdeck/clawdeck/internal/bridge"
	"github.com/clawdeck/clawdeck/internal/config"
	"github.com/clawdeck/clawdeck/internal/database"
	"github.com/clawdeck/clawdeck/internal/gateway"
	"github.com/clawdeck/clawdeck/internal/handlers"
	"github.com/clawdeck/clawdeck/internal/logger"
	"github.com/clawdeck/clawdeck/internal/models"
	"github.com/clawdeck/clawdeck/internal/pipeline"
	"github.com/clawdeck/clawdeck/internal/platform"
	"github.com/clawdeck/clawdeck/internal/proxy"
	"github.com/clawdeck/clawdeck/internal/recovery"
	"github.com/clawdeck/clawdeck/internal/secrets"
	"github.com/clawdeck/clawdeck/internal/server"
	"github.com/clawdeck/clawdeck/internal/webhook"
)

var version = "dev"

func main() {
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Println("clawdeck " + version)
		os.Exit(0)
	}

	logger.Banner()

	cfg := config.Load()

	db, err := database.New(cfg.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Resolve JWT secret: env var > database > generate and persist
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		stored, _ := db.GetSetting("jwt_secret")
		if stored != "" {
			jwtSecret = stored
		} else {
			jwtSecret, err = secrets.GenerateKey()
			if err != nil {
				logger.Fatal("Failed to generate JWT secret: %v", err)
			}
			if err := db.SetSetting("jwt_secret", jwtSecret); err != nil {
				logger.Error("Failed to persist JWT secret: %v", err)
			}
			logger.Success("Generated and persisted JWT secret")
		}
	}
	authService := auth.NewService(jwtSecret)

	// Resolve encryption key the same way, kept separate from the JWT secret
	encKey := cfg.EncryptionKey
	if encKey == "" {
		stored, _ := db.GetSetting("encryption_key")
		if stored != "" {
			encKey = stored
		} else {
			encKey, err = secrets.GenerateKey()
			if err != nil {
				logger.Fatal("Failed to generate encryption key: %v", err)
			}
			if err := db.SetSetting("encryption_key", encKey); err != nil {
				logger.Fatal("Failed to persist encryption key: %v", err)
			}
			logger.Success("Generated encryption key")
		}
	}
	secretsMgr := secrets.NewManager(encKey)
	secretsStore := secrets.NewStore(db, secretsMgr)

	// Gateway client. Connection settings may not exist yet; the client
	// stays idle until the operator configures them.
	gw := gateway.NewClient(gateway.Config{})

	hub := bridge.NewHub(authService, cfg.Port)
	detachGateway := hub.AttachGateway(gw)
	defer detachGateway()

	engine := pipeline.NewEngine(db, gw, func(threadID string, update models.WSPipelineUpdate) {
		data, err := json.Marshal(update)
		if err != nil {
			return
		}
		hub.Broadcast(threadID, bridge.Message{Type: "pipeline-update", ThreadID: threadID, Data: data})
	})

	settingsHandler := handlers.NewSettingsHandler(db, secretsStore, func(s *models.ConnectionSettings) {
		gw.Configure(s.URL(), s.AuthToken)
		if !gw.IsConnected() {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := gw.Connect(ctx); err != nil {
					logger.Warn("Gateway connection failed: %v", err)
				}
				hub.PublishGatewayState(gw.State())
			}()
		}
	})

	// Dial the gateway on boot when settings already exist. Failure is not
	// fatal; the client reconnects and the UI shows the status.
	if conn, err := settingsHandler.LoadConnection(); err != nil {
		logger.Error("Failed to load connection settings: %v", err)
	} else if conn != nil {
		gw.Configure(conn.URL(), conn.AuthToken)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := gw.Connect(ctx); err != nil {
				logger.Warn("Gateway not reachable yet: %v", err)
			}
			hub.PublishGatewayState(gw.State())
		}()
	} else {
		logger.Warn("Gateway connection not configured. Set it up in the dashboard.")
	}

	// Stale thread sweeper
	monitor := recovery.NewMonitor(db, gw, func(threadID, status string) {
		data, _ := json.Marshal(models.WSThreadStatus{ThreadID: threadID, Status: status})
		hub.Broadcast(threadID, bridge.Message{Type: "thread-status", ThreadID: threadID, Data: data})
	})
	if err := monitor.Start(); err != nil {
		logger.Fatal("Failed to start recovery monitor: %v", err)
	}
	defer monitor.Stop()

	seedDefaultTemplate(db)

	gwProxy := proxy.NewHandler(authService, settingsHandler.LoadConnection, cfg.Port)

	var issueWebhook *webhook.Handler
	if cfg.WebhookSecret != "" {
		tmplID := defaultTemplateID(db)
		issueWebhook = webhook.NewHandler(cfg.WebhookSecret, db, engine, tmplID)
		logger.Info("Issue webhook ingress enabled")
	}

	srv := server.New(server.Config{
		DB:           db,
		Auth:         authService,
		SecretsStore: secretsStore,
		Gateway:      gw,
		Hub:          hub,
		Engine:       engine,
		GatewayProxy: gwProxy,
		Webhook:      issueWebhook,
		Version:      version,
	}, settingsHandler)

	hasAdmin, err := db.HasAdminUser()
	if err != nil {
		logger.Fatal("Failed to check admin user: %v", err)
	}
	if !hasAdmin {
		logger.Warn("No admin user found. Visit the app to complete setup.")
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	if cfg.BindAddress != "127.0.0.1" && cfg.BindAddress != "localhost" {
		logger.Warn("Binding to %s — accessible from the network. Use CLAWDECK_BIND=127.0.0.1 for localhost-only.", cfg.BindAddress)
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // intentionally zero for WebSocket support
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		url := fmt.Sprintf("http://localhost:%d", cfg.Port)
		logger.Listen(addr, url, cfg.Port)
		if os.Getenv("CLAWDECK_NO_OPEN") != "1" {
			platform.OpenBrowser(url)
		}
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	<-done
	logger.Shutdown("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown failed: %v", err)
	}

	gw.Disconnect()
	logger.Bye()
}

// seedDefaultTemplate creates the built-in pipeline template on first boot.
func seedDefaultTemplate(db *database.DB) {
	templates, err := db.ListPipelineTemplates()
	if err != nil {
		logger.Error("Failed to list pipeline templates: %v", err)
		return
	}
	if len(templates) > 0 {
		return
	}
	tmpl := &models.PipelineTemplate{
		ID:     uuid.New().String(),
		Name:   "Default",
		Stages: pipeline.DefaultStages,
	}
	if err := db.CreatePipelineTemplate(tmpl); err != nil {
		logger.Error("Failed to seed default pipeline template: %v", err)
		return
	}
	logger.Success("Seeded default pipeline template")
}

func defaultTemplateID(db *database.DB) string {
	templates, err := db.ListPipelineTemplates()
	if err != nil || len(templates) == 0 {
		return ""
	}
	for _, t := range templates {
		if t.Name == "Default" {
			return t.ID
		}
	}
	return templates[0].ID
}
