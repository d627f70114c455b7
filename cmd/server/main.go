package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finlit-network/backend/internal/auth"
	"github.com/finlit-network/backend/internal/config"
	"github.com/finlit-network/backend/internal/database"
	"github.com/finlit-network/backend/internal/gamification"
	"github.com/finlit-network/backend/internal/logging"
	"github.com/finlit-network/backend/internal/metrics"
	"github.com/finlit-network/backend/internal/middleware"
	"github.com/finlit-network/backend/internal/storage"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, dialect, err := database.Connect(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db, dialect); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	backend, err := openBackend(ctx, cfg, db, dialect, logger)
	if err != nil {
		logger.Fatalf("Failed to open ledger storage: %v", err)
	}
	defer backend.Close()

	// Ledgers are cached per process, so a shared backend gets one writer.
	if leaser, ok := backend.(storage.WriterLeaser); ok {
		lost, err := leaser.AcquireWriter(ctx, instanceID())
		if err != nil {
			logger.Fatalf("Failed to acquire ledger writer lease: %v", err)
		}
		go func() {
			select {
			case <-lost:
				logger.Error("Ledger writer lease lost, shutting down")
				stop()
			case <-ctx.Done():
			}
		}()
	}

	// Initialize services and handlers
	tokens := auth.NewTokens(cfg.JWTSecret)
	gamificationService := gamification.NewService(backend, logger)
	gamificationHandler := gamification.NewHandler(gamificationService)

	authHandler := auth.NewHandler(db, tokens, logger)
	authHandler.OnRegister(func(userID int64, username string) {
		if err := gamificationService.SetUsername(userID, username); err != nil {
			logger.WithError(err).WithField("user_id", userID).Warn("seed ledger username")
		}
	})

	scheduler, err := gamification.NewScheduler(gamificationService, cfg.CronRollover, cfg.LedgerIdleTTL, logger)
	if err != nil {
		logger.Fatalf("Failed to create rollover scheduler: %v", err)
	}
	scheduler.Start(ctx)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limiter.StartCleanup(ctx, 10*time.Minute)

	// Setup router
	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	public := api.PathPrefix("/auth").Subrouter()
	public.Use(limiter.Handler)
	public.HandleFunc("/register", authHandler.Register).Methods("POST")
	public.HandleFunc("/login", authHandler.Login).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.NewAuth(tokens, logger).Handler)
	protected.Use(limiter.Handler)
	protected.HandleFunc("/auth/me", authHandler.GetCurrentUser).Methods("GET")
	gamificationHandler.RegisterRoutes(protected)

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"port":    cfg.Port,
		"storage": cfg.StorageBackend,
		"sql":     dialect,
	}).Info("Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Server failed: %v", err)
	}
	logger.Info("Server stopped")
}

func openBackend(ctx context.Context, cfg *config.Config, db *sql.DB, dialect database.Dialect, log logrus.FieldLogger) (storage.Backend, error) {
	switch cfg.StorageBackend {
	case "postgres", "sqlite":
		return storage.NewSQLBackend(db, string(dialect), log), nil
	case "redis":
		return storage.NewRedisBackend(ctx, storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
	default:
		return storage.NewMemoryBackend(), nil
	}
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()
}
