package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/config"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db/memstore"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/db/queries"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/handlers"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/llm"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/loader"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/notify"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/objectstore"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/orchestrator"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/sandbox"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/synthesis"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/telemetry"
	"github.com/ASHISH26940/scene-orchestrator-api/pkg/templates"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus" // Structured logger
)

// rebuildBatch is how many failed scenes one background pass retries.
const rebuildBatch = 50

func main() {
	log.SetOutput(gin.DefaultWriter)
	log.SetLevel(log.InfoLevel)
	log.SetFormatter(&log.JSONFormatter{})
	log.Info("Starting Scene Orchestrator API...")

	cfg := config.LoadConfig()
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{Enabled: cfg.TracingEnabled, Environment: cfg.Environment})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	var (
		store db.Store
		conn  *sqlx.DB
	)
	if cfg.DatabaseURL == "" {
		store = memstore.New()
	} else {
		if conn, err = db.Open(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close(conn)
		if err := db.Migrate(conn); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		store = queries.New(conn)
	}

	generator, err := llm.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	defer generator.Close()

	artifacts, err := objectstore.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize artifact storage: %v", err)
	}
	if c, ok := artifacts.(io.Closer); ok {
		defer c.Close()
	}

	catalog, err := templates.Load(cfg.TemplatesFile)
	if err != nil {
		log.Fatalf("Failed to load template catalog: %v", err)
	}

	hub := notify.NewHub()
	defer hub.Close()

	validator := sandbox.New()
	engine := synthesis.NewEngine(generator, validator, synthesis.Options{
		Timeout:         cfg.GenerationTimeout,
		Retries:         cfg.GenerationRetries,
		MaxScopedChange: cfg.EditScopeMaxChange,
	})
	orch := orchestrator.New(orchestrator.Deps{
		Store:       store,
		Synthesizer: engine,
		Validator:   validator,
		Artifacts:   artifacts,
		Notifier:    hub,
		Templates:   catalog,
		Sessions:    orchestrator.NewSessions(0),
	})
	ld := loader.New(store, loader.Options{
		HeuristicScan: cfg.LoaderHeuristicScan,
		FlagCooldown:  cfg.LoaderFlagCooldown,
	})

	go orch.RunRebuilder(ctx, cfg.RebuildInterval, rebuildBatch)

	router := handlers.NewRouter(handlers.NewHandlers(cfg, orch, store, ld, hub, catalog))
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
		// Turns wait on generation, so only the header read is bounded tightly.
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Server listening on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Errorf("Failed to flush traces: %v", err)
	}

	log.Info("Server exited gracefully.")
}
