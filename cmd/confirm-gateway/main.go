package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carescore/platform/pkg/common/config"
	"github.com/carescore/platform/pkg/common/database"
	"github.com/carescore/platform/pkg/common/kafka"
	"github.com/carescore/platform/pkg/common/logger"
	"github.com/carescore/platform/pkg/confirmation"
	"github.com/carescore/platform/pkg/gateway/auth"
	"github.com/carescore/platform/pkg/gateway/middleware"
	"github.com/carescore/platform/pkg/gateway/routes"
	"github.com/carescore/platform/pkg/ledger"
	"github.com/carescore/platform/pkg/observability/metrics"
	"github.com/carescore/platform/pkg/reportapi"
	"github.com/carescore/platform/pkg/scoring"
	"github.com/carescore/platform/pkg/session"
	"github.com/carescore/platform/pkg/upload"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init()
	log := logger.ForService("confirm-gateway")
	cfg := config.Load()

	thresholds, err := scoring.LoadThresholds(cfg.ScoringConfigPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load scoring thresholds")
	}

	client := reportapi.New(cfg.ReportAPIBaseURL, cfg.ReportAPITimeout,
		reportapi.WithToken(cfg.ReportAPIToken),
		reportapi.WithAttempts(cfg.ReportAPIAttempts),
	)

	checks := map[string]routes.Check{}
	var sessions session.Store
	switch cfg.SessionBackend {
	case "redis":
		rdb, err := database.GetRedis(context.Background(), cfg)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		store := session.NewRedisStore(rdb, cfg.SessionTTL, cfg.SessionLockTTL)
		checks["redis"] = store.Ping
		sessions = store
		defer database.CloseRedis()
	default:
		store := session.NewMemoryStore(cfg.SessionTTL, cfg.SessionLockTTL)
		go sweep(store, time.Minute)
		sessions = store
	}

	opts := []routes.SessionOption{
		routes.WithPolicy(confirmation.Policy{LenientValues: cfg.LenientTestValues}),
		routes.WithMaxBody(cfg.MaxRequestBody),
		routes.WithSubmitTimeout(submitBudget(cfg.SessionLockTTL)),
	}
	if cfg.KafkaEnabled() {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.ConfirmedTopic)
		defer producer.Close()
		opts = append(opts, routes.WithPublisher(ledger.NewEventPublisher(producer)))
	} else {
		log.Warn("No Kafka brokers configured, confirmations will not be published")
	}

	// Setup router
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(metrics.Middleware)
	router.Use(middleware.CORS)

	routes.NewHealthHandler("confirm-gateway", checks).Register(router)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	if cfg.JWTSecret != "" {
		verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience)
		if err != nil {
			log.WithError(err).Fatal("Invalid JWT configuration")
		}
		apiRouter.Use(middleware.Authenticate(verifier))
	} else {
		log.Warn("JWT_SECRET not set, running without authentication")
	}
	apiRouter.Use(middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware)

	routes.NewSessionHandler(sessions, client, opts...).Register(apiRouter)
	uploads := upload.NewService(upload.NewValidator(nil, cfg.MaxUploadBytes), client)
	routes.NewReportsHandler(client, thresholds, uploads).Register(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.WithFields(map[string]interface{}{
			"host":       cfg.ServerHost,
			"port":       cfg.ServerPort,
			"report_api": cfg.ReportAPIBaseURL,
			"sessions":   cfg.SessionBackend,
		}).Info("Confirm gateway started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down confirm gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Confirm gateway stopped")
}

func sweep(store *session.MemoryStore, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		if n := store.Sweep(); n > 0 {
			logger.WithField("expired", n).Debug("swept expired sessions")
		}
	}
}

// submitBudget keeps a confirm's analysis request inside the session lock.
func submitBudget(lockTTL time.Duration) time.Duration {
	if lockTTL <= 0 {
		return 0
	}
	return lockTTL * 9 / 10
}
