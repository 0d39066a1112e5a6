package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/txsummary/config"
	"github.com/mmdatafocus/txsummary/middlewares"
	"github.com/mmdatafocus/txsummary/models"
	"github.com/mmdatafocus/txsummary/models/reports"
)

func newRouter(settings config.Settings, a *api, ready *middlewares.Readiness) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationId())
	r.Use(ready.Gate("/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	if settings.IsProduction() {
		if len(settings.CORSAllowedOrigins) == 0 {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		} else {
			corsConfig.AllowOrigins = settings.CORSAllowedOrigins
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationIdHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationIdHeader)
	r.Use(cors.New(corsConfig))

	if settings.RateLimitEnabled {
		if settings.RedisAddress != "" {
			a.redisLimiter = middlewares.NewRedisRateLimiter(settings.RateLimitMaxRequests, settings.RateLimitWindow)
			r.Use(a.redisLimiter.Middleware())
		} else {
			r.Use(middlewares.NewLocalRateLimiter(settings.RateLimitMaxRequests, settings.RateLimitWindow).Middleware())
		}
	}

	r.Use(middlewares.ErrorLogger(a.logger))
	r.Use(gin.Recovery())

	live := a.reportHandler("report", liveReport)
	summary := a.reportHandler("summary", summaryReport)
	r.GET("/transaction/report", live)
	r.GET("/transaction/report/", live)
	r.GET("/transaction/summary", summary)
	r.GET("/transaction/summary/", summary)
	r.POST("/pubsub/summary-runs", a.summaryRunsPubSubHandler())
	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatal(err)
	}
	if err := config.SetLogLevel(settings.LogLevel); err != nil {
		log.Fatal(err)
	}
	if settings.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	ready := &middlewares.Readiness{}
	a := &api{logger: logger}
	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           newRouter(settings, a, ready),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	db, err := config.ConnectDatabaseWithRetry(sigCtx, settings)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Error(err.Error())
		return
	}
	store := models.NewStore(db)
	defer store.Close()

	rdb, _, err := config.ConnectRedisWithRetry(sigCtx, settings.RedisAddress)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "redis"}).Error(err.Error())
		return
	}
	if rdb != nil {
		defer rdb.Close()
		if a.redisLimiter != nil {
			a.redisLimiter.UseClient(rdb)
		}
	}

	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !settings.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Error(err.Error())
			return
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	scope, err := models.ParseSummaryScope(settings.SummaryScope)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Error(err.Error())
		return
	}
	a.reports = reports.NewService(store, reports.ServiceOptions{
		Scope:    scope,
		Statuses: settings.SummaryStatuses,
		Cache:    reports.NewCache(rdb, settings.CacheTTL, settings.SummaryRunsTopic != ""),
		Logger:   logger,
	})
	ready.MarkReady()

	logger.WithFields(logrus.Fields{
		"info":   "Connection Established",
		"driver": settings.DBDriver,
		"scope":  string(scope),
	}).Info("listening on port ", settings.Port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
}
