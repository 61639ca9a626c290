package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dullyvine/reelforge/internal/api"
	"github.com/dullyvine/reelforge/internal/composer"
	"github.com/dullyvine/reelforge/internal/config"
	"github.com/dullyvine/reelforge/internal/renderer"
	"github.com/dullyvine/reelforge/internal/scheduler"
	"github.com/dullyvine/reelforge/internal/services"
	"github.com/dullyvine/reelforge/internal/storage"
	"github.com/dullyvine/reelforge/internal/store"
)

func main() {
	log.Println("Starting ReelForge API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to Redis for queue snapshot persistence
	snapshots, err := store.New(cfg.RedisURL, cfg.QueueOwner)
	if err != nil {
		log.Fatalf("Failed to connect to snapshot store: %v", err)
	}
	defer snapshots.Close()
	log.Println("Connected to Redis snapshot store")

	// Render backend client
	backend := renderer.NewClient(cfg.RenderBackendURL, cfg.RenderBackendKey)

	// Scheduler: restores persisted queue state on construction
	sched := scheduler.New(backend, snapshots, scheduler.Config{
		MaxConcurrent:  cfg.MaxConcurrentRenders,
		MaxJobDuration: cfg.MaxJobDuration,
	})
	log.Printf("Scheduler ready (max concurrent renders: %d)", cfg.MaxConcurrentRenders)

	// Composition services
	stor := storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
	openaiSvc := services.NewOpenAIService(cfg.OpenAIKey)
	ttsSvc := services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	imageSvc := services.NewImageService(cfg.GeminiKey, cfg.GeminiImageModel)
	stockSvc := services.NewStockService(cfg.PexelsKey)
	comp := composer.New(openaiSvc, ttsSvc, imageSvc, stockSvc, stor)

	// Create API handler
	handler := api.NewHandler(sched, comp)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Reconciliation loop — ticks run sequentially, so a slow tick delays
	// the next instead of overlapping it.
	tickCtx, tickCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				sched.Tick(tickCtx)
			}
		}
	}()
	log.Printf("Reconciliation loop started (interval: %v)", cfg.TickInterval)

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop the reconciliation loop
	tickCancel()

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
