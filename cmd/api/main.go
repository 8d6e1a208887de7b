package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anair/spendsight/internal/api/handlers"
	"github.com/anair/spendsight/internal/api/middleware"
	"github.com/anair/spendsight/internal/archive"
	"github.com/anair/spendsight/internal/classifier"
	"github.com/anair/spendsight/internal/config"
	"github.com/anair/spendsight/internal/ingest"
	"github.com/anair/spendsight/internal/ledger"
	"github.com/anair/spendsight/internal/logger"
	"github.com/anair/spendsight/internal/userdir"
)

func main() {
	cfg := config.Load()
	log := logger.New().Level(logger.ParseLevel(cfg.LogLevel))

	ctx := context.Background()

	resolver := userdir.NewResolver(cfg.Data.Root)
	ledgerSvc := ledger.NewService(resolver)

	// The ingestion pipeline needs the generative classifier; without an
	// API key the rest of the API still serves.
	var pipeline *ingest.Pipeline
	if cfg.Classifier.APIKey != "" {
		gen, err := classifier.NewGeminiGenerator(ctx, cfg.Classifier.APIKey, cfg.Classifier.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create classifier")
		}
		cls := classifier.New(gen, cfg.Classifier.CallTimeout, log)
		parser := archive.NewParser(cfg.Classifier.BatchSize)
		pipeline = ingest.New(resolver, parser, cls, log)
	} else {
		log.Warn().Msg("No classifier API key configured - archive ingestion will be disabled")
	}

	transactionsHandler := handlers.NewTransactionsHandler(ledgerSvc, pipeline, log)

	// Create router
	mux := http.NewServeMux()

	post := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "bad_request", "Method not allowed")
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("/daterange", post(transactionsHandler.DateRange))
	mux.HandleFunc("/classify", post(transactionsHandler.Classify))
	mux.HandleFunc("/reclassify", post(transactionsHandler.Reclassify))
	mux.HandleFunc("/normalize", post(transactionsHandler.Normalize))
	mux.HandleFunc("/add-transaction", post(transactionsHandler.AddTransaction))

	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "bad_request", "Method not allowed")
			return
		}
		transactionsHandler.ListUsers(w, r)
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(mux),
			),
		),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
