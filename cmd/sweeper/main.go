package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/owlsmarket/order-core/internal/config"
	"github.com/owlsmarket/order-core/internal/coupons"
	"github.com/owlsmarket/order-core/internal/inventory"
	kafkax "github.com/owlsmarket/order-core/internal/kafka"
	"github.com/owlsmarket/order-core/internal/logx"
	"github.com/owlsmarket/order-core/internal/orders"
	"github.com/owlsmarket/order-core/internal/postgres"
	"github.com/owlsmarket/order-core/internal/redisx"
	"github.com/owlsmarket/order-core/internal/sweeper"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logx.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, log, 256)
	prod.Start(ctx)

	repo := &orders.Repo{Log: log}
	orch := &orders.Orchestrator{
		DB:      db,
		Repo:    repo,
		Ledger:  &inventory.Ledger{Log: log},
		Coupons: &coupons.Store{Log: log},
		Redis:   rdb,
		Events:  prod,
		Log:     log,

		ServiceName: cfg.ServiceName,
	}

	sw := &sweeper.Sweeper{
		DB:     db,
		Repo:   repo,
		Orders: orch,
		Log:    log,

		Interval: cfg.SweepInterval,
		TTL:      cfg.PendingOrderTTL,
		Batch:    cfg.SweepBatchSize,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("shutting down...")
		cancel()
	}()

	if err := sw.Run(ctx); err != nil {
		log.WithError(err).Fatal("sweeper")
	}
	// cancel() sudah bikin producer flush sisa pesan lalu exit.
	prod.WaitClosed()
}
