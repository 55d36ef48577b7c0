package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/owlsmarket/order-core/internal/cart"
	"github.com/owlsmarket/order-core/internal/catalog"
	"github.com/owlsmarket/order-core/internal/config"
	"github.com/owlsmarket/order-core/internal/coupons"
	"github.com/owlsmarket/order-core/internal/httpx"
	"github.com/owlsmarket/order-core/internal/inventory"
	kafkax "github.com/owlsmarket/order-core/internal/kafka"
	"github.com/owlsmarket/order-core/internal/logx"
	"github.com/owlsmarket/order-core/internal/orders"
	"github.com/owlsmarket/order-core/internal/payments"
	"github.com/owlsmarket/order-core/internal/postgres"
	"github.com/owlsmarket/order-core/internal/redisx"
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

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, log, 1024)
	prod.Start(ctx)

	ordersRepo := &orders.Repo{Log: log}
	catalogStore := &catalog.Store{DB: db}
	orch := &orders.Orchestrator{
		DB:      db,
		Repo:    ordersRepo,
		Ledger:  &inventory.Ledger{Log: log},
		Coupons: &coupons.Store{Log: log},
		Cart:    &cart.Store{Redis: rdb},
		Catalog: catalogStore,
		Vendors: catalogStore,
		Redis:   rdb,
		Events:  prod,
		Log:     log,

		ServiceName:       cfg.ServiceName,
		MaxPendingPerUser: cfg.MaxPendingPerUser,
		MaxGuestOrders24h: int64(cfg.MaxGuestOrders24h),
		MaxOrdersPerIP1h:  int64(cfg.MaxOrdersPerIP1h),
		ShippingFlat:      cfg.ShippingFlatAmount,
		TaxRateBps:        cfg.TaxRateBps,
	}

	processor := &payments.Processor{
		DB:       db,
		Payments: &payments.Repo{Log: log},
		Orders:   ordersRepo,
		Redis:    rdb,
		Events:   prod,
		Log:      log,

		ServiceName: cfg.ServiceName,
		Source:      cfg.GatewaySource,
		Secret:      cfg.GatewaySecret,
		Tolerance:   cfg.ReplayTolerance,
	}

	coordinator := &refunds.Coordinator{
		DB:          db,
		Payments:    &payments.Repo{Log: log},
		Tickets:     &refunds.Repo{Log: log},
		Events:      prod,
		Log:         log,
		ServiceName: cfg.ServiceName,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Orchestrator: orch, Payments: processor, HoldDays: cfg.VendorHoldDays}
	oh.Register(router)
	ph := &httpx.PaymentsHandler{Processor: processor, Refunds: coordinator}
	ph.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
