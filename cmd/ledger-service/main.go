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
	"github.com/carescore/platform/pkg/gateway/middleware"
	"github.com/carescore/platform/pkg/gateway/routes"
	"github.com/carescore/platform/pkg/ledger"
	"github.com/carescore/platform/pkg/observability/metrics"
	"github.com/carescore/platform/pkg/redact"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger.Init()
	log := logger.ForService("ledger-service")
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.ClosePostgres()

	repo := ledger.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		log.WithError(err).Fatal("Failed to migrate ledger tables")
	}
	rules, err := redact.LoadRules(cfg.RedactionRulesPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load redaction rules")
	}
	redactor, err := redact.New(rules)
	if err != nil {
		log.WithError(err).Fatal("Invalid redaction rules")
	}
	service := ledger.NewService(repo, ledger.WithRedactor(redactor))

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(metrics.Middleware)

	routes.NewHealthHandler("ledger-service", map[string]routes.Check{
		"postgres": func(ctx context.Context) error { return database.PingPostgres(ctx, db) },
	}).Register(router)
	ledger.NewHandler(service).Register(router.PathPrefix("/api/v1").Subrouter())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	if cfg.KafkaEnabled() {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.ConfirmedTopic, cfg.KafkaGroupID)
		defer consumer.Close()

		eg.Go(func() error {
			log.WithField("topic", cfg.ConfirmedTopic).Info("Consuming confirmation events")
			if err := consumer.Consume(ctx, service.HandleEvent); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	} else {
		log.Warn("No Kafka brokers configured, serving the ledger read-only")
	}

	eg.Go(func() error {
		log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Ledger service started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down ledger service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		log.WithError(err).Error("Ledger service exited with error")
		os.Exit(1)
	}
	log.Info("Ledger service stopped")
}
