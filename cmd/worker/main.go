package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-saga.git/internal/catalog"
	"github.com/ariefcatur/go-order-saga.git/internal/config"
	"github.com/ariefcatur/go-order-saga.git/internal/events"
	kafkax "github.com/ariefcatur/go-order-saga.git/internal/kafka"
	"github.com/ariefcatur/go-order-saga.git/internal/orders"
	"github.com/ariefcatur/go-order-saga.git/internal/postgres"
	"github.com/ariefcatur/go-order-saga.git/internal/redisx"
	"github.com/ariefcatur/go-order-saga.git/internal/saga"
	"github.com/ariefcatur/go-order-saga.git/internal/shipping"
	"github.com/ariefcatur/go-order-saga.git/internal/stock"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	zerolog.TimeFieldFormat = time.RFC3339
	service := getenv("SERVICE_NAME", "saga-worker")
	log.Logger = log.With().Str("service", service).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producers: completed & failed (dua topic berbeda)
	pOK := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicSagaCompleted, 1024)
	pOK.Start(ctx)
	pFail := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicSagaFailed, 1024)
	pFail.Start(ctx)

	ledger := stock.NewPgLedger(db, cfg.HoldTTL)
	store := &saga.PgStore{DB: db}

	coord := &saga.Coordinator{
		Store:    store,
		Ledger:   ledger,
		Catalog:  catalog.NewClient(cfg.ProductServiceURL, cfg.ExternalTimeout),
		Orders:   &orders.Repo{DB: db},
		Shipping: shipping.NewClient(cfg.DeliveryServiceURL, cfg.ExternalTimeout),
		Events:   &events.Emitter{Completed: pOK, Failed: pFail, Service: service},
	}

	worker := &saga.Worker{Coordinator: coord, Redis: rdb, Service: service}

	group := getenv("WORKER_GROUP", "saga-worker")
	workers := mustAtoi(os.Getenv("WORKER_WORKERS"), "8")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, events.TopicSagaSubmitted, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("group", group).
			Str("topic", events.TopicSagaSubmitted).
			Int("workers", workers).
			Msg("saga consumer started")
		return cons.Start(gctx, worker.HandleSubmitted)
	})
	g.Go(func() error {
		sweep := &saga.Sweeper{
			Store:       store,
			Coordinator: coord,
			Interval:    cfg.SweepInterval,
			StaleAfter:  cfg.StaleAfter,
		}
		return sweep.Run(gctx)
	})
	g.Go(func() error {
		sweep := &stock.ExpirySweeper{Ledger: ledger, Interval: cfg.SweepInterval}
		return sweep.Run(gctx)
	})

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info().Msg("shutting down worker...")
	case <-gctx.Done():
	}
	cancel()
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("worker exit")
	}
	pOK.Close()
	pFail.Close()
	pOK.WaitClosed()
	pFail.WaitClosed()
}
