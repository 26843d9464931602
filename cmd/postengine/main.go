// Command postengine is the post-trade processing engine entrypoint: it
// wires the store, the inbound channel adapter, the outbound publisher,
// the settlement gateway client, and the rule runtime together and
// runs until terminated.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/postengine/internal/calendar"
	"github.com/web3guy0/postengine/internal/config"
	"github.com/web3guy0/postengine/internal/feed"
	"github.com/web3guy0/postengine/internal/gateway"
	"github.com/web3guy0/postengine/internal/outbox"
	"github.com/web3guy0/postengine/internal/publisher"
	"github.com/web3guy0/postengine/internal/runtime"
	"github.com/web3guy0/postengine/internal/store"
)

const version = "1.0.0"

// outboxPollInterval is how often the dispatcher checks for newly
// pending outbox entries between deliveries.
const outboxPollInterval = 2 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Str("version", version).Int("workers", cfg.WorkerCount).Msg("postengine starting")

	engine, err := store.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	pub := publisher.New(cfg.TradeEventsBrokers, cfg.TradeEventsTopic)
	defer pub.Close()

	gw := gateway.New(cfg.SettlementGatewayURL, gateway.Config{
		BaseDelay: cfg.GatewayRetry.BaseDelay,
		CapDelay: cfg.GatewayRetry.CapDelay,
		JitterPct: cfg.GatewayRetry.JitterPct,
		Timeout: cfg.SettlementGatewayTimeout,
	})

	dispatcher := outbox.New(engine, pub, gw, outboxPollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runtime.Reconcile(ctx, dispatcher); err != nil {
		log.Error().Err(err).Msg("startup reconciliation failed, continuing")
	}

	dedupeHorizon := time.Duration(cfg.DedupeHorizonDays) * 24 * time.Hour
	rt := runtime.New(engine, cfg.CurrencyScales, calendar.WeekendSkipping{})

	workers := make([]runtime.PartitionConsumer, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		workers[i] = feed.NewConsumer(cfg.ExecutionFeedBrokers, cfg.ExecutionFeedTopic, i, dedupeHorizon, rt.HandleExecution)
	}

	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("outbox dispatcher stopped unexpectedly")
		}
	}()

	go func() {
		if err := rt.Run(ctx, workers); err != nil {
			log.Error().Err(err).Msg("rule runtime stopped unexpectedly")
		}
	}()

	log.Info().Msg("postengine running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("postengine stopped")
}
