// Package main is the entry point for the orchestration engine daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/consilium-ai/orchestration-engine/internal/channel"
	"github.com/consilium-ai/orchestration-engine/internal/config"
	"github.com/consilium-ai/orchestration-engine/internal/contextwindow"
	"github.com/consilium-ai/orchestration-engine/internal/engine"
	"github.com/consilium-ai/orchestration-engine/internal/handler"
	"github.com/consilium-ai/orchestration-engine/internal/llm"
	"github.com/consilium-ai/orchestration-engine/internal/middleware"
	natsclient "github.com/consilium-ai/orchestration-engine/internal/nats"
	"github.com/consilium-ai/orchestration-engine/pkg/logger"
	"github.com/consilium-ai/orchestration-engine/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting orchestration engine")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "orchestration-engine", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Thread directory backed by JetStream KV
	threadDir, err := natsclient.NewThreadDirectory(ctx, natsClient)
	if err != nil {
		log.Error("failed to open thread directory", zap.Error(err))
		os.Exit(1)
	}

	// LLM-backed summarizer, with a local truncating fallback when no key
	// is configured.
	var summarizer contextwindow.Summarizer = contextwindow.TruncatingSummarizer{}
	llmClient := newLLMClient(cfg, log)
	if llmClient != nil {
		summarizer = llm.NewSummarizer(llmClient, "")
	}

	ctxManager := contextwindow.New(contextwindow.Config{
		Model:                  cfg.ContextModel,
		ContextWindow:          cfg.ContextWindow,
		CompressionThreshold:   cfg.CompressionThreshold,
		PreserveSystemPrompt:   true,
		PreserveRecentMessages: cfg.PreserveRecentMessages,
	}, summarizer, log)

	// Reducer and session store
	effects := engine.ToolEffects{
		cfg.AgentTool:      engine.EffectAgent,
		cfg.DiscussionTool: engine.EffectDiscussion,
	}
	reducer := engine.NewReducer(effects, log)
	store := engine.NewStore(engine.StoreDeps{
		Reducer:   reducer,
		History:   streamManager,
		Source:    streamManager,
		Directory: threadDir,
		ChannelCfg: channel.Config{
			MaxAttempts:     cfg.ChannelMaxAttempts,
			InitialInterval: cfg.ChannelInitialBackoff,
			MaxInterval:     cfg.ChannelMaxBackoff,
		},
		Logger: log,
	})
	defer store.Dispose()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	sessionHandler := handler.NewSessionHandler(store, log)
	streamHandler := handler.NewStreamHandler(streamManager, streamManager, log)
	contextHandler := handler.NewContextHandler(ctxManager, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Post("/activate", sessionHandler.Activate)
			r.Get("/", sessionHandler.Get)
			r.Delete("/", sessionHandler.Clear)

			r.Get("/ui", sessionHandler.GetUIState)
			r.Put("/ui", sessionHandler.UpdateUIState)
			r.Delete("/ui", sessionHandler.ClearUIState)

			r.Get("/events/stream", streamHandler.Stream)
		})

		r.Get("/threads/{id}/sessions", sessionHandler.ThreadSessions)

		r.Route("/context", func(r chi.Router) {
			r.Post("/select", contextHandler.Select)
			r.Post("/compress", contextHandler.Compress)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newLLMClient builds the configured provider's client, or nil when no API
// key is set.
func newLLMClient(cfg *config.Config, log *logger.Logger) llm.Client {
	var (
		provider llm.Provider
		key      string
	)
	switch {
	case cfg.DefaultLLM == "openai" && cfg.OpenAIAPIKey != "":
		provider, key = llm.ProviderOpenAI, cfg.OpenAIAPIKey
	case cfg.AnthropicAPIKey != "":
		provider, key = llm.ProviderAnthropic, cfg.AnthropicAPIKey
	case cfg.OpenAIAPIKey != "":
		provider, key = llm.ProviderOpenAI, cfg.OpenAIAPIKey
	default:
		return nil
	}

	client, err := llm.NewClient(provider, key)
	if err != nil {
		log.Warn("failed to create LLM client, summarization degrades to truncation", zap.Error(err))
		return nil
	}
	return client
}
