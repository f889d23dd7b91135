package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/gavelmarket/gavel/internal/blob/s3"
	"github.com/gavelmarket/gavel/internal/cache/redis"
	"github.com/gavelmarket/gavel/internal/config"
	"github.com/gavelmarket/gavel/internal/crypto"
	"github.com/gavelmarket/gavel/internal/custody"
	"github.com/gavelmarket/gavel/internal/domain"
	"github.com/gavelmarket/gavel/internal/notify"
	"github.com/gavelmarket/gavel/internal/payment"
	"github.com/gavelmarket/gavel/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	ListingStore domain.ListingStore
	BidStore     domain.BidStore
	AuctionStore domain.AuctionStore
	RefundStore  domain.RefundStore
	CreditStore  domain.CreditStore
	SaleStore    domain.SaleStore
	AuditStore   domain.AuditStore

	// Caches
	ListingCache domain.ListingCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// External collaborators
	Custody     domain.CustodyClient
	Gateway     domain.PaymentGateway
	Marketplace domain.Account

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool {
	switch mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.ListingStore = postgres.NewListingStore(pool)
	deps.BidStore = postgres.NewBidStore(pool)
	deps.AuctionStore = postgres.NewAuctionStore(pool)
	deps.RefundStore = postgres.NewRefundStore(pool)
	deps.CreditStore = postgres.NewCreditStore(pool)
	deps.SaleStore = postgres.NewSaleStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	redisTTL := time.Duration(0)
	if cfg.Redis.CacheTTLMinutes > 0 {
		redisTTL = time.Duration(cfg.Redis.CacheTTLMinutes) * time.Minute
	}

	deps.ListingCache = redis.NewListingCache(redisClient, redisTTL)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, int64(cfg.Redis.StreamMaxLen))

	// --- Asset registry and payment gateway ---
	// Every mode needs both: the API serves bids and settlements, and the
	// maintenance loop retries the outbound legs of settled sales.
	marketplace, err := domain.ParseAccount(cfg.Auction.MarketplaceAddress)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: marketplace address: %w", err)
	}
	deps.Marketplace = marketplace

	deps.Custody = custody.NewClient(custody.Config{
		BaseURL:   cfg.Custody.BaseURL,
		APIKey:    cfg.Custody.APIKey,
		APISecret: cfg.Custody.APISecret,
		Timeout:   cfg.Custody.Timeout.Duration,
	})

	var paymentSecret string
	if cfg.Payment.APISecret != "" || cfg.Payment.EncryptedSecretPath != "" {
		paymentSecret, err = crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Payment.APISecret,
			EncryptedSecretPath: cfg.Payment.EncryptedSecretPath,
			SecretPassword:      cfg.Payment.SecretPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: payment secret: %w", err)
		}
	}
	deps.Gateway = payment.NewGateway(payment.Config{
		BaseURL:     cfg.Payment.BaseURL,
		APIKey:      cfg.Payment.APIKey,
		APISecret:   paymentSecret,
		Timeout:     cfg.Payment.Timeout.Duration,
		Marketplace: marketplace,
	})

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg.Mode) {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.SaleStore,
			deps.RefundStore,
			deps.AuditStore,
			cfg.Archive.BatchSize,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
