package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ariefcatur/go-order-saga.git/internal/config"
	"github.com/ariefcatur/go-order-saga.git/internal/events"
	"github.com/ariefcatur/go-order-saga.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-saga.git/internal/kafka"
	"github.com/ariefcatur/go-order-saga.git/internal/orders"
	"github.com/ariefcatur/go-order-saga.git/internal/postgres"
	"github.com/ariefcatur/go-order-saga.git/internal/redisx"
	"github.com/ariefcatur/go-order-saga.git/internal/saga"
	"github.com/ariefcatur/go-order-saga.git/internal/stock"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.With().Str("service", cfg.ServiceName).Logger()

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

	// Kafka producer (saga.submitted)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, events.TopicSagaSubmitted, 1024)
	prod.Start(ctx)

	// Handler
	router := httpx.NewRouter()
	sh := &httpx.SagaHandler{
		Store:   &saga.PgStore{DB: db},
		Orders:  &orders.Repo{DB: db},
		Stock:   stock.NewPgLedger(db, cfg.HoldTTL),
		Emitter: &events.Emitter{Submitted: prod, Service: cfg.ServiceName},
		Redis:   rdb,
		Service: cfg.ServiceName,
	}
	sh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
