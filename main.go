package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"umamicore/api/access"
	"umamicore/api/config"
	"umamicore/api/database"
	"umamicore/api/geo"
	"umamicore/api/handlers"
	"umamicore/api/ingest"
	"umamicore/api/logger"
	"umamicore/api/middleware"
	"umamicore/api/stats"
	"umamicore/api/store"
	"umamicore/api/utils"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	utils.ConfigureJWT(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTExpiry)
	if cfg.Auth.JWTSecret == "" {
		zl.Warn("auth.jwt_secret is empty, logins and share links are disabled")
	}

	// --- Primary store ---
	dbClient, err := database.NewDB(cfg.Database, logger.Named(zl, "database"))
	if err != nil {
		zl.Fatal("failed to initialize database", zap.Error(err))
	}
	defer dbClient.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(dbClient.DB, cfg.Auth.InitialAdminPassword, logger.Named(zl, "migrate")); err != nil {
			zl.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	// --- Optional ClickHouse mirror ---
	var (
		analyticsStore *store.AnalyticsStore
		sink           ingest.Sink
	)
	if cfg.ClickHouse.Enabled() {
		chClient, err := database.NewClickHouseDB(cfg.ClickHouse, logger.Named(zl, "clickhouse"))
		if err != nil {
			zl.Fatal("failed to initialize ClickHouse", zap.Error(err))
		}
		defer chClient.Close()
		analyticsStore = store.NewAnalyticsStore(chClient, logger.Named(zl, "analytics"))
		sink = analyticsStore
	}

	locator, err := geo.Open(cfg.GeoIP.Path)
	if err != nil {
		zl.Fatal("failed to open GeoIP database", zap.Error(err))
	}
	defer locator.Close()

	// --- Stores ---
	websiteStore := store.NewWebsiteStore(dbClient.DB)
	userStore := store.NewUserStore(dbClient.DB)
	sessionStore := store.NewSessionStore(dbClient.DB)
	eventStore := store.NewEventStore(dbClient.DB)
	attributeStore := store.NewAttributeStore(dbClient.DB)
	reportStore := store.NewReportStore(dbClient.DB)

	// --- Domain services ---
	guard := access.NewGuard(websiteStore, userStore, cfg.Access.Retention, cfg.Access.CacheTTL, logger.Named(zl, "access"))
	resolver := ingest.NewResolver(sessionStore, cfg.Session.Window, cfg.Session.VisitWindow, cfg.Session.MaxAttempts, logger.Named(zl, "sessions"))
	writer := ingest.NewWriter(cfg.Ingest, guard, resolver, eventStore, sink, logger.Named(zl, "ingest"))
	fingerprinter := ingest.NewFingerprinter(cfg.Session.Salt, cfg.Session.RotateSalt)
	engine := stats.NewEngine(dbClient.DB, cfg.Stats, logger.Named(zl, "stats"))

	// --- Handlers ---
	routes := handlers.Router{
		Auth:    handlers.NewAuthHandlers(userStore, int(cfg.Auth.JWTExpiry.Seconds()), logger.Named(zl, "auth")),
		Collect: handlers.NewCollectHandlers(writer, fingerprinter, locator, cfg.Ingest.MaxBatch, cfg.Ingest.Timeout, logger.Named(zl, "collect")),
		Sites:   handlers.NewWebsiteHandlers(websiteStore, userStore, guard, logger.Named(zl, "websites")),
		Stats:   handlers.NewStatsHandlers(engine, guard, attributeStore, eventStore, sessionStore, analyticsStore, logger.Named(zl, "stats")),
		Reports: handlers.NewReportHandlers(reportStore, engine, guard, logger.Named(zl, "reports")),
		Teams:   handlers.NewTeamHandlers(userStore, logger.Named(zl, "teams")),
		Health:  handlers.NewHealthHandlers(dbClient.DB, logger.Named(zl, "health")),
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger.Named(zl, "http")), middleware.Metrics(), middleware.CORS(cfg.CORS))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	routes.Register(r, cfg.Auth.APIKey, logger.Named(zl, "auth"))

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		zl.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("server forced to shutdown", zap.Error(err))
	}

	zl.Info("server exiting")
}
