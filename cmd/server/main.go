package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tradeassist/options-engine/internal/api"
	"github.com/tradeassist/options-engine/internal/broker"
	"github.com/tradeassist/options-engine/internal/broker/mock"
	"github.com/tradeassist/options-engine/internal/catalog"
	"github.com/tradeassist/options-engine/internal/config"
	"github.com/tradeassist/options-engine/internal/engine"
	"github.com/tradeassist/options-engine/internal/events"
	"github.com/tradeassist/options-engine/internal/notify"
	"github.com/tradeassist/options-engine/internal/store/postgres"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(cfg.Database.MigrationsPath); err != nil {
		logger.WithError(err).Fatal("failed to run database migrations")
	}

	var upstream broker.Broker
	if cfg.Broker.Mock {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		market := mock.NewMarket(cfg.Broker.Sentiment, 0.5, time.Second, rng, logger)
		go market.Run(ctx)
		upstream = market
		logger.Info("running against mock market")
	} else {
		upstream = broker.NewClient(cfg.Broker.BaseURL, cfg.Broker.APIKey, logger)
	}

	cat := catalog.New(upstream, cfg.Engine.InstrumentCache, logger)
	cat.SetTTL(cfg.Engine.InstrumentCacheTTL)
	if err := cat.Load(ctx); err != nil {
		logger.WithError(err).Warn("instrument catalog load failed, lookups empty until refresh")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer producer.Close()

	sender := notify.NewTelegramClient(cfg.Telegram.BotToken)
	notifier := notify.New(sender, db, db, cfg.Telegram.DefaultChatID, logger)
	notifier.Start(ctx)

	eng := engine.New(engine.Deps{
		Broker:       upstream,
		Trades:       db,
		Orders:       db,
		Notifier:     notifier,
		Events:       producer,
		Lots:         cat,
		Redis:        redisClient,
		Logger:       logger,
		TickInterval: cfg.Engine.TickInterval,
	})
	go eng.Run(ctx)

	handler := api.NewHandler(eng, db, cat, logger)
	router := api.SetupRoutes(handler)

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown failed")
	}
	notifier.Wait()
}
