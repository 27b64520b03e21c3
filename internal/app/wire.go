package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/nftmarket/internal/blob/s3"
	"github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/cache/redis"
	"github.com/alanyoungcy/nftmarket/internal/collection"
	"github.com/alanyoungcy/nftmarket/internal/config"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/ledger"
	"github.com/alanyoungcy/nftmarket/internal/market"
	"github.com/alanyoungcy/nftmarket/internal/notify"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	// Marketplace
	Ledger *ledger.Ledger
	Assets *collection.Registry
	Engine *market.Engine

	// Stores, nil unless postgres is enabled
	EventStore  domain.EventStore
	Projections domain.ProjectionStore
	SaleStore   domain.SaleStore
	AuditStore  domain.AuditStore

	// Caches, Redis-backed or in-process
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	ReplayGuard domain.ReplayGuard
	SignalBus   domain.SignalBus

	// Archiver is nil unless both postgres and s3 are enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier

	// Health lists the reachable external dependencies.
	Health map[string]handler.Pinger
}

// Wire constructs every dependency from cfg and returns them together with a
// cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.EventStore = postgres.NewEventStore(pool)
		deps.Projections = postgres.NewProjectionStore(pool)
		deps.SaleStore = postgres.NewSaleStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	}

	// --- Redis, or in-process fallbacks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "wire: redis disabled, using in-process caches")
		deps.RateLimiter = memory.NewRateLimiter()
		deps.LockManager = memory.NewLockManager()
		deps.ReplayGuard = memory.NewReplayGuard(time.Minute)
		deps.SignalBus = memory.NewBus(256)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = s3Client.Health
		if deps.EventStore != nil {
			deps.Archiver = s3blob.NewEventArchiver(s3blob.NewWriter(s3Client), deps.EventStore, deps.AuditStore)
		}
	}

	// --- Marketplace ---
	deps.Ledger = ledger.New()
	assets, err := seedGenesis(ctx, cfg.Genesis, deps.Ledger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Assets = assets

	var startSeq uint64
	if deps.EventStore != nil {
		last, err := deps.EventStore.LastSeq(ctx)
		if err != nil {
			return fail(fmt.Errorf("wire: last event seq: %w", err))
		}
		startSeq = uint64(max(last, 0))
	}
	if deps.Projections != nil {
		if err := deps.Projections.Reset(ctx); err != nil {
			return fail(fmt.Errorf("wire: reset projections: %w", err))
		}
	}

	engineAddr := common.HexToAddress(cfg.Market.Address)
	engine, err := market.New(market.Config{
		Address:      engineAddr,
		Owner:        common.HexToAddress(cfg.Market.Owner),
		FeeRateBps:   uint16(cfg.Market.FeeRateBps),
		FeeRecipient: common.HexToAddress(cfg.Market.FeeRecipient),
	}, assets, deps.Ledger, market.WithLogger(logger), market.WithStartSeq(startSeq))
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Ledger.SetHook(engineAddr, engine.Receive)
	deps.Engine = engine

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
