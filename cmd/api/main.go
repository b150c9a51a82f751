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

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/httpx"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/ariefcatur/storefront-orders/internal/memory"
	"github.com/ariefcatur/storefront-orders/internal/metrics"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/payment"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// store is what both persistence drivers provide.
type store interface {
	orders.UnitOfWork
	inventory.UnitOfWork
	Catalog() orders.Catalog
	Addresses() orders.AddressBook
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.MustNew(cfg.ServiceName, cfg.Env)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("storefront")
	ledger := inventory.NewLedger(m)

	// Store
	var st store
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		mem := memory.New()
		seedDemo(mem)
		st = mem
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, 16)
		if err != nil {
			log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal("db migrate", zap.Error(err))
		}
		st = &postgres.Store{DB: db}
	}

	// Redis (opsional): cache order, dedup webhook, Idempotency-Key order
	var (
		cache httpx.OrderCache
		dedup payment.Deduper
		idem  httpx.OrderIdempotency
	)
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Warn("redis unavailable; cache and dedup fast path disabled", zap.Error(err))
		} else {
			cache = redisx.NewOrderCache(rdb)
			dedup = redisx.NewPaymentDedup(rdb)
			idem = redisx.NewOrderIdempotency(rdb)
		}
	}

	// Kafka producer (opsional): notifikasi order
	var notifier orders.Notifier
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic, 1024, log)
		prod.Start()
		notifier = kafkax.NewNotifier(prod, cfg.ServiceName)
	} else {
		log.Warn("KAFKA_BROKERS empty; notifications are dropped")
	}

	var gateway orders.Gateway
	if cfg.GatewayServerKey != "" {
		gateway = payment.NewHTTPGateway(payment.Config{
			BaseURL:   cfg.GatewayBaseURL,
			SnapURL:   cfg.GatewaySnapURL,
			ServerKey: cfg.GatewayServerKey,
		}, log.Named("gateway"))
	} else {
		log.Warn("GATEWAY_SERVER_KEY empty; payment sessions and webhooks are disabled")
	}

	svc := orders.NewService(orders.Deps{
		UoW:       st,
		Ledger:    ledger,
		Catalog:   st.Catalog(),
		Addresses: st.Addresses(),
		Notifier:  notifier,
		Gateway:   gateway,
		Pricing:   cfg.Pricing,
		Log:       log.Named("orders"),
		Metrics:   m,
	})
	srvDeps := &httpx.Server{
		Orders:      svc,
		Inventory:   &inventory.Service{UoW: st, Ledger: ledger, Log: log.Named("inventory")},
		Cache:       cache,
		Idempotency: idem,
		Metrics:     m,
		Log:         log.Named("http"),
	}
	if gateway != nil {
		srvDeps.Webhook = payment.NewReconciler(gateway, svc, dedup, log.Named("payment"))
	}

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(srvDeps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// graceful shutdown
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	svc.Wait() // notifikasi yang masih jalan diserahkan ke producer dulu
	if prod != nil {
		prod.Close()      // tutup inbox -> flush & close writer
		prod.WaitClosed() // drain
	}
	cancel()
}

// seedDemo mengisi katalog kecil supaya mode memory bisa langsung dicoba.
func seedDemo(mem *memory.Store) {
	mem.AddProduct(orders.Product{ID: "prod-kaos", Name: "Kaos Polos", PriceCents: 100000, Active: true}, 50, 5)
	mem.AddProduct(orders.Product{ID: "prod-topi", Name: "Topi Rajut", PriceCents: 75000, Active: true}, 20, 3)
	mem.AddAddress(orders.Address{
		ID: "addr-demo", UserID: "user-demo", Recipient: "Demo User",
		Phone: "+6281200000000", Line1: "Jl. Sudirman 1", City: "Jakarta", PostalCode: "10220",
	})
}
