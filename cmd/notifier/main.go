package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/logging"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// notifier membaca event order dan meneruskannya ke channel pengiriman.
// Pengiriman sebenarnya (push, email) ada di luar service ini; di sini
// setiap event di-dedup per event_id lalu dicatat sebagai terkirim.
func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.MustNew(cfg.ServiceName+"-notifier", cfg.Env)
	defer func() { _ = log.Sync() }()

	if len(cfg.KafkaBrokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := &handler{group: cfg.NotifierGroup, log: log}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := redisx.Ping(ctx, rdb); err != nil {
			log.Warn("redis unavailable; event dedup disabled", zap.Error(err))
		} else {
			h.rdb = rdb
		}
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, cfg.NotifyTopic, cfg.NotifierWorkers, log)
	log.Info("notifier consumer started",
		zap.String("group", cfg.NotifierGroup),
		zap.String("topic", cfg.NotifyTopic),
		zap.Int("workers", cfg.NotifierWorkers),
	)
	if err := cons.Start(ctx, h.handle); err != nil {
		log.Error("consumer exit", zap.Error(err))
		os.Exit(1)
	}
	log.Info("notifier stopped")
}

type handler struct {
	group string
	rdb   redis.UniversalClient
	log   *zap.Logger
}

func (h *handler) handle(ctx context.Context, m kafka.Message) error {
	ev, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// pesan rusak tidak akan pernah sukses; commit saja supaya tidak macet
		h.log.Error("dropping malformed event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if h.rdb != nil {
		first, err := redisx.FirstSeen(ctx, h.rdb, h.group, ev.EventID)
		if err != nil {
			h.log.Warn("event dedup failed", zap.String("event_id", ev.EventID), zap.Error(err))
		} else if !first {
			h.log.Debug("duplicate event skipped", zap.String("event_id", ev.EventID))
			return nil
		}
	}
	h.log.Info("notification delivered",
		zap.String("event_id", ev.EventID),
		zap.String("event_type", ev.EventType),
		zap.String("target", ev.Target),
		zap.String("order_id", ev.CorrelationID),
		zap.Time("occurred_at", ev.OccurredAt),
		zap.ByteString("payload", ev.Payload),
	)
	return nil
}
