package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/resoundfm/resound/internal/config"
	"github.com/resoundfm/resound/internal/engine"
	"github.com/resoundfm/resound/internal/handlers"
	"github.com/resoundfm/resound/internal/logger"
	"github.com/resoundfm/resound/internal/middleware"
	"github.com/resoundfm/resound/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Log.Info("Resound server starting", zap.String("port", cfg.Port))

	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatal("Failed to open database", zap.Error(err))
	}

	// Learned state lives in Redis when available, otherwise in the
	// database alongside the track library.
	var state storage.Adapter = db
	if cfg.RedisHost != "" {
		redis, err := storage.NewRedis(cfg.RedisHost, cfg.RedisPort, cfg.RedisPass)
		if err != nil {
			logger.Log.Warn("Redis unavailable, persisting state to database", zap.Error(err))
		} else {
			state = redis
			logger.Log.Info("State persistence on Redis")
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	eng, err := engine.New(cfg, db, state, rng)
	if err != nil {
		logger.Log.Fatal("Failed to build engine", zap.Error(err))
	}

	ctx := context.Background()
	if err := eng.LoadState(ctx); err != nil {
		logger.Log.Fatal("Failed to load engine state", zap.Error(err))
	}
	if err := eng.RebuildIndex(ctx); err != nil {
		logger.Log.Fatal("Failed to rebuild vector index", zap.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.GinLoggerMiddleware())
	r.Use(middleware.MetricsMiddleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "X-User-ID", "X-Request-ID"}
	r.Use(cors.New(corsConfig))

	h := handlers.NewHandlers(eng)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()
	logger.Log.Info("Server listening", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Forced shutdown", zap.Error(err))
	}
	if err := eng.SaveState(shutdownCtx); err != nil {
		logger.Log.Error("Failed to save engine state", zap.Error(err))
	}

	logger.Log.Info("Server stopped")
}
