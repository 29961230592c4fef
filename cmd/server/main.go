package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"settlement-reconciliation-engine/internal/app"
	"settlement-reconciliation-engine/internal/config"
	handler "settlement-reconciliation-engine/internal/handlers"
	"settlement-reconciliation-engine/internal/logger"
	"settlement-reconciliation-engine/internal/repository"
	"settlement-reconciliation-engine/internal/routes"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on system env")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLog.Sync()

	db, err := config.InitDB(cfg.Database, zapLog)
	if err != nil {
		zapLog.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := repository.Migrate(db); err != nil {
		zapLog.Fatal("Failed to migrate database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		zapLog.Fatal("Failed to get database handle", zap.Error(err))
	}

	store := repository.NewStore(db)
	svc := app.NewService(cfg, store, store.Documents(), zapLog)

	if !cfg.Logger.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(handler.Recovery(zapLog), handler.RequestLogger(zapLog))
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", handler.HeaderOrganization, handler.HeaderOperator},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, svc, sqlDB, zapLog, cfg.Server.MaxUploadBytes)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLog.Info("Starting HTTP server",
			zap.Int("port", cfg.Server.Port),
			zap.String("timezone", cfg.Reconciliation.Timezone),
			zap.String("currency", cfg.Reconciliation.Currency),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zapLog.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let running imports reach a terminal state.
	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		zapLog.Warn("Imports still running at shutdown")
	}

	if err := sqlDB.Close(); err != nil {
		zapLog.Error("Failed to close database", zap.Error(err))
	}
	zapLog.Info("Server exited")
}
