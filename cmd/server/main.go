package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/auth"
	"creditledger/internal/config"
	"creditledger/internal/handler"
	"creditledger/internal/infrastructure/cache"
	"creditledger/internal/infrastructure/database"
	"creditledger/internal/infrastructure/email"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/infrastructure/logging"
	"creditledger/internal/infrastructure/mq"
	"creditledger/internal/job"
	"creditledger/internal/service"
	"creditledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := os.Getenv("CREDITLEDGER_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(&cfg.Log)

	if err := idgen.Init(1); err != nil {
		log.Fatal().Err(err).Msg("init id generator")
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedis(&cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("connect redis")
		}
		defer rdb.Close()
	}

	var publisher job.Publisher = mq.LogPublisher{}
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("connect kafka")
		}
		kafkaPublisher := mq.NewKafkaPublisher(producer)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	sender := email.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From)
	if cfg.Email.ResendAPIKey == "" {
		log.Warn().Msg("email.resend_api_key is empty, invites will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, cfg, publisher)
	go outboxSender.Start(ctx)

	var locker service.SpendLocker
	if rdb != nil && cfg.Credits.SpendLock {
		locker = lock.NewSpendLocker(rdb, cfg.Credits.LockTTL)
	}
	reconcileJob := job.NewLedgerReconcileJob(db, cfg, service.NewCreditService(db, cfg, locker))
	go reconcileJob.Start(ctx)

	verifier := auth.NewVerifier(cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.HMACSecret)
	h := handler.NewHandler(db, rdb, cfg, sender)
	router := handler.SetupRouter(h, verifier, cfg)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	log.Info().Msg("server stopped")
}
