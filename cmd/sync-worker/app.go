package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/MarketSync/config"
	"github.com/BearBump/MarketSync/internal/broker/kafka"
	"github.com/BearBump/MarketSync/internal/broker/messages"
	"github.com/BearBump/MarketSync/internal/cache"
	"github.com/BearBump/MarketSync/internal/cache/rediscache"
	"github.com/BearBump/MarketSync/internal/integrations/marketplace"
	"github.com/BearBump/MarketSync/internal/integrations/marketplace/fake"
	"github.com/BearBump/MarketSync/internal/integrations/marketplace/openapihttp"
	"github.com/BearBump/MarketSync/internal/services/syncer"
	"github.com/BearBump/MarketSync/internal/storage/pgorders"
	"github.com/pkg/errors"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo syncer.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) syncer.Producer
	newConsumer    func(cfg *config.Config, topic string) *kafka.Consumer
	newRateLimiter func(cfg *config.Config) syncer.RateLimiter
	newCache       func(cfg *config.Config) cache.BytesCache
	newSourceClient func(cfg *config.Config) marketplace.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (syncer.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgorders.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) syncer.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newConsumer: func(cfg *config.Config, topic string) *kafka.Consumer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewConsumer(brokers, topic, cfg.MarketSync.KafkaConsumerGroup)
		},
		newRateLimiter: func(cfg *config.Config) syncer.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.New(redisAddr)
		},
		newSourceClient: func(cfg *config.Config) marketplace.Client {
			// Для демо без площадки остаётся детерминированный fake.
			if cfg.MarketSync.MarketplaceBaseURL != "" && cfg.MarketSync.MarketplaceMode == "openapi" {
				return openapihttp.New(cfg.MarketSync.MarketplaceBaseURL, cfg.MarketSync.MarketplaceAppKey)
			}
			return fake.New()
		},
	}
}

func buildSyncer(cfg *config.Config, f workerFactories) (*syncer.Syncer, func(), error) {
	topic := cfg.Kafka.TrackingRefreshTopicName
	if topic == "" {
		topic = "tracking.refresh.requested"
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "init storage")
	}

	s := syncer.New(repo, f.newSourceClient(cfg), f.newProducer(cfg), f.newRateLimiter(cfg), topic).
		WithSettings(
			cfg.MarketSync.SyncBatchSize,
			cfg.MarketSync.SyncPageSize,
			time.Duration(cfg.MarketSync.SyncPageDelayMillis)*time.Millisecond,
			time.Duration(cfg.MarketSync.SyncBatchDelayMillis)*time.Millisecond,
			time.Duration(cfg.MarketSync.SyncDetailDelayMillis)*time.Millisecond,
			int64(cfg.MarketSync.SyncRateLimitPerMinute),
		)

	if ttl := cfg.MarketSync.PreviewTTLSeconds; ttl > 0 && f.newCache != nil {
		s = s.WithPreviewCache(f.newCache(cfg), time.Duration(ttl)*time.Second)
	}
	return s, closeFn, nil
}

type commandConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
	Close() error
}

var consumerRestartDelay = 5 * time.Second

// consumeSyncCommands слушает командный топик и запускает синк магазина.
// Ошибки обработчика не коммитятся: сообщение будет перечитано. После любого
// выхода Consume цикл перезапускается с паузой, иначе один неудачный синк
// навсегда гасил бы kafka-вход процесса.
func consumeSyncCommands(ctx context.Context, cfg *config.Config, c commandConsumer, s *syncer.Syncer) {
	defer func() { _ = c.Close() }()

	handler := func(key, value []byte) error {
		var cmd messages.SyncRequested
		if err := json.Unmarshal(value, &cmd); err != nil {
			slog.Error("decode sync command", "error", err.Error())
			return nil // кривое сообщение перечитывать бессмысленно
		}
		shop := cfg.Shop(cmd.ShopID)
		if shop == nil {
			slog.Error("sync command for unknown shop", "shop_id", cmd.ShopID)
			return nil
		}

		res, err := s.Sync(ctx, syncer.SyncRequest{
			OrgID: cfg.MarketSync.OrgID,
			Shop: marketplace.ShopCredential{
				ShopID:      shop.ID,
				AccessToken: shop.AccessToken,
				Cipher:      shop.Cipher,
			},
			PageSize: cmd.PageSize,
		})
		if err != nil {
			return err
		}
		slog.Info("sync command done", "shop_id", cmd.ShopID,
			"orders", res.OrdersProcessed, "pages", res.PagesProcessed)
		return nil
	}

	for {
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("sync command consumer stopped, restarting", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(consumerRestartDelay):
		}
	}
}

func RunSyncWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	s, closeFn, err := buildSyncer(cfg, f)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	if topic := cfg.Kafka.SyncRequestedTopicName; topic != "" && f.newConsumer != nil {
		go consumeSyncCommands(ctx, cfg, f.newConsumer(cfg, topic), s)
	}

	err = runWorkerHTTPServer(ctx, workerHTTPOpts{
		httpAddr: cfg.MarketSync.HTTPAddr,
		syncer:   s,
		cfg:      cfg,
		onListen: func(addr string) { slog.Info("sync worker listening", "addr", addr) },
	})
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}
