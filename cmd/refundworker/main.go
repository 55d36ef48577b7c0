package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/owlsmarket/order-core/internal/config"
	"github.com/owlsmarket/order-core/internal/inventory"
	kafkax "github.com/owlsmarket/order-core/internal/kafka"
	"github.com/owlsmarket/order-core/internal/logx"
	"github.com/owlsmarket/order-core/internal/orders"
	"github.com/owlsmarket/order-core/internal/payments"
	"github.com/owlsmarket/order-core/internal/postgres"
	"github.com/owlsmarket/order-core/internal/refunds"
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

	prod := kafkax.NewProducer(cfg.KafkaBrokers, log, 256)
	prod.Start(ctx)

	worker := &refunds.Worker{
		DB:       db,
		Payments: &payments.Repo{Log: log},
		Orders:   &orders.Repo{Log: log},
		Tickets:  &refunds.Repo{Log: log},
		Ledger:   &inventory.Ledger{Log: log},
		Gateway:  refunds.NewHTTPGateway(cfg.GatewayRefundURL, cfg.GatewaySource, cfg.GatewaySecret),
		Events:   prod,
		Log:      log,

		ServiceName: cfg.ServiceName,
		Retry: refunds.Policy{
			MaxAttempts: cfg.RefundMaxAttempts,
			Base:        cfg.RefundBaseBackoff,
			Max:         cfg.RefundMaxBackoff,
		},
	}

	consumer := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.RefundGroup, orders.TopicRefundRequested, cfg.RefundWorkers, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("topic", orders.TopicRefundRequested).Info("refund worker consuming")
		return consumer.Start(gctx, worker.HandleTask)
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			log.Info("shutting down...")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("refund worker")
	}
	prod.WaitClosed()
}
