package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/alertline/geodispatch/internal/api"
	"github.com/alertline/geodispatch/internal/config"
	"github.com/alertline/geodispatch/internal/dispatch"
	"github.com/alertline/geodispatch/internal/ingestion"
	"github.com/alertline/geodispatch/internal/logging"
	"github.com/alertline/geodispatch/internal/match"
	"github.com/alertline/geodispatch/internal/notify"
	"github.com/alertline/geodispatch/internal/repository"
	"github.com/alertline/geodispatch/internal/sweep"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var push notify.PushSender
	if cfg.PushConfigured() {
		push = notify.NewWebPushSender(cfg.Notify.VAPIDSubscriber, cfg.Notify.VAPIDPublicKey, cfg.Notify.VAPIDPrivateKey)
	} else {
		slog.Warn("VAPID keys not configured, push disabled")
	}

	var email notify.EmailSender
	if cfg.EmailConfigured() {
		email = notify.NewSMTPEmailSender(cfg.Notify.SMTPHost, cfg.Notify.SMTPPort,
			cfg.Notify.SMTPUsername, cfg.Notify.SMTPPassword, cfg.Notify.SMTPFrom)
	} else {
		slog.Warn("SMTP not configured, email disabled")
	}

	engine := match.NewEngine(db.Alerts(), db.Users())
	coordinator := dispatch.NewCoordinator(engine, db.Alerts(), db.Notifications(), push, email, cfg.Dispatch.Workers)

	mgr := ingestion.NewManager(cfg, db.Alerts(), coordinator)
	mgr.Start(ctx)

	sweeper := sweep.New(db.Alerts(), db.Notifications(), cfg.Sweep.Interval, cfg.Sweep.Retention)
	sweeper.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(5)) // 5 req/s global limit

	handler := api.NewHandler(engine, db.Alerts(), db.Notifications(), coordinator, mgr, sweeper)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
