package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"concierge/internal/api"
	"concierge/internal/catalog"
	"concierge/internal/config"
	"concierge/internal/db"
	"concierge/internal/gateway"
	"concierge/internal/intent"
	"concierge/internal/jobs"
	"concierge/internal/llm"
	"concierge/internal/messaging"
	"concierge/internal/pubsub"
	"concierge/internal/workflow"
	"concierge/internal/ws"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Check for migrate command
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrations(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		os.Exit(0)
	}

	// Check for goose migrate command
	if len(os.Args) > 1 && os.Args[1] == "goose-migrate" {
		if err := runGooseMigrations(); err != nil {
			log.Fatalf("Goose migration failed: %v", err)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] != "serve" {
		log.Fatalf("Unknown command: %s (use 'serve', 'migrate' or 'goose-migrate')", os.Args[1])
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()

	// Database connection
	dbPool, err := db.NewPool(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	// Redis connection
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Pub/sub bus and WebSocket hub
	bus := pubsub.New(rdb, logger)
	hub := ws.NewHub(logger)
	go hub.Run()
	bus.SetWSHub(hub)

	// External clients
	llmClient := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.LLMTimeout)
	sender := messaging.NewClient(cfg.MessagingBaseURL, cfg.MessagingToken, cfg.MessagingTimeout)

	// Catalog aggregation with Redis-backed cache
	cache := catalog.NewCache(rdb, cfg.CatalogHardTTL, logger)
	agg := catalog.NewAggregator(cache, cfg.CatalogTTL, logger,
		catalog.NewTaoProvider(cfg.TaoBaseURL, cfg.TaoAPIKey, 10*time.Second),
	)

	// Background jobs
	jobServer := jobs.NewJobServer(cfg.RedisAddr, dbPool, bus, agg, logger)
	go func() {
		if err := jobServer.Start(); err != nil {
			logger.Fatal("Job server failed", zap.Error(err))
		}
	}()
	defer jobServer.Stop()

	jobClient := jobs.NewClient(cfg.RedisAddr)
	defer jobClient.Close()

	// Domain services
	workflowSvc := workflow.NewService(dbPool.Queries, workflow.NewPayloadValidator(),
		sender, llmClient, cfg.LLMModel, jobClient, bus, logger)

	router := intent.NewRouter(llmClient, cfg.LLMModel, logger)
	composer := gateway.NewComposer(llmClient, cfg.LLMModel, logger)
	sessions := gateway.NewSessionStore(cfg.MaxSessions, cfg.SessionTTL)
	gw := gateway.New(dbPool.Queries, router, composer, sessions,
		sender, agg, workflowSvc, jobClient, bus, logger)
	gw.SetHotelProvider(catalog.NewBookingClient(cfg.BookingBaseURL, cfg.BookingAPIKey, 10*time.Second))

	// HTTP router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Timeout middleware - skip for WebSocket upgrades
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, req)
				return
			}
			middleware.Timeout(60 * time.Second)(next).ServeHTTP(w, req)
		})
	})

	r.Mount("/v1", api.Routes(api.Dependencies{
		Gateway:   gw,
		Workflow:  workflowSvc,
		Hub:       hub,
		Log:       logger,
		JWTSecret: cfg.JWTSecret,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	logger.Info("Starting server", zap.String("addr", cfg.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
