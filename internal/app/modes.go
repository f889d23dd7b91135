package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gavelmarket/gavel/internal/notify"
	"github.com/gavelmarket/gavel/internal/server"
	"github.com/gavelmarket/gavel/internal/server/handler"
	"github.com/gavelmarket/gavel/internal/server/ws"
	"github.com/gavelmarket/gavel/internal/service"
)

// marketServices bundles the service layer shared by the API server and the
// notification watcher.
type marketServices struct {
	listings *service.ListingService
	auctions *service.AuctionService
	credits  *service.CreditService
}

// ServerMode runs the marketplace API: HTTP + WebSocket server, the Redis
// event fan-out, and the notification watcher.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)
	a.startWatcher(ctx, g, deps)

	return g.Wait()
}

// ArchiveMode runs the maintenance work: periodic export of aged records to
// cold storage and the sweep that retries the outbound legs of settled
// sales. It serves no HTTP traffic.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if !a.cfg.Archive.Enabled {
		a.logger.WarnContext(ctx, "archive.enabled is false, but archive mode always runs the archiver")
	}

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	g.Go(func() error {
		return a.runArchiveLoop(ctx, deps)
	})
	g.Go(func() error {
		return a.runResolveLoop(ctx, svcs.auctions)
	})

	return g.Wait()
}

// FullMode runs the API server, the resolution sweep, and, when enabled, the
// archive loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	a.startWatcher(ctx, g, deps)
	g.Go(func() error {
		return a.runResolveLoop(ctx, svcs.auctions)
	})

	if a.cfg.Archive.Enabled {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	} else {
		a.logger.InfoContext(ctx, "archive loop disabled")
	}

	return g.Wait()
}

// buildServices constructs the service layer from wired dependencies.
func (a *App) buildServices(deps *Dependencies) *marketServices {
	listingSvc := service.NewListingService(
		deps.ListingStore, deps.BidStore, deps.AuctionStore,
		deps.ListingCache, deps.LockManager, deps.Custody,
		deps.SignalBus, deps.AuditStore, deps.Marketplace, a.logger,
	)
	auctionSvc := service.NewAuctionService(
		deps.ListingStore, deps.BidStore, deps.AuctionStore, deps.RefundStore,
		deps.SaleStore,
		deps.ListingCache, deps.LockManager, deps.RateLimiter,
		deps.Custody, deps.Gateway, deps.SignalBus, deps.AuditStore,
		deps.Marketplace,
		service.AuctionParams{
			MinIncrementPct: int64(a.cfg.Auction.MinIncrementPct),
			Extension:       a.cfg.Auction.Extension.Duration,
			BidRateLimit:    a.cfg.Auction.BidRateLimit,
		},
		a.logger,
	)
	creditSvc := service.NewCreditService(
		deps.CreditStore, deps.RefundStore, deps.LockManager,
		deps.Gateway, deps.SignalBus, deps.AuditStore, a.logger,
	)
	return &marketServices{
		listings: listingSvc,
		auctions: auctionSvc,
		credits:  creditSvc,
	}
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *marketServices) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, startedAt, svcs.listings, a.logger),
		Listings: handler.NewListingHandler(svcs.listings, a.logger),
		Bids:     handler.NewBidHandler(svcs.listings, svcs.auctions, a.logger),
		Credits:  handler.NewCreditHandler(svcs.credits, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		AdminAPIKey:      a.cfg.Server.AdminAPIKey,
		RequestRateLimit: a.cfg.Server.RequestRateLimit,
		SigningSkew:      a.cfg.Server.SigningSkew.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startWatcher adds the notification watcher goroutine that forwards
// marketplace events from the signal bus to the configured notify channels.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	watcher := notify.NewWatcher(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
}

const (
	// resolveInterval is how often settled sales with unfinished outbound
	// legs (undelivered asset, unresolved seller payout) are retried.
	resolveInterval = 5 * time.Minute

	// resolveBatchSize caps how many pending sales one sweep pass picks up.
	resolveBatchSize = 100
)

// runResolveLoop periodically retries the outbound legs of settled sales
// until the context is cancelled.
func (a *App) runResolveLoop(ctx context.Context, auctions *service.AuctionService) error {
	a.logger.InfoContext(ctx, "sale resolution loop started",
		slog.Duration("interval", resolveInterval),
	)

	ticker := time.NewTicker(resolveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := auctions.ResolvePending(ctx, resolveBatchSize)
			if err != nil {
				a.logger.ErrorContext(ctx, "resolve pending sales failed",
					slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.InfoContext(ctx, "pending sales resolved", slog.Int("count", n))
			}
		}
	}
}

// runArchiveLoop exports aged records on a fixed interval until the context
// is cancelled. Each pass archives sales and resolved refunds older than the
// retention window.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}

	a.logger.InfoContext(ctx, "archive loop started",
		slog.Duration("interval", interval),
		slog.Duration("retention", retention),
	)

	// One pass at startup, then on every tick.
	a.archiveOnce(ctx, deps, retention)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.archiveOnce(ctx, deps, retention)
		}
	}
}

// archiveOnce runs one archive pass. Failures are logged, never fatal; the
// next tick retries.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, retention time.Duration) {
	before := time.Now().UTC().Add(-retention)

	salesN, err := deps.Archiver.ArchiveSales(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive sales failed", slog.String("error", err.Error()))
	}
	refundsN, err := deps.Archiver.ArchiveRefunds(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive refunds failed", slog.String("error", err.Error()))
	}
	auditN, err := deps.Archiver.ArchiveAudit(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive audit failed", slog.String("error", err.Error()))
	}

	if salesN > 0 || refundsN > 0 || auditN > 0 {
		a.logger.InfoContext(ctx, "archive pass complete",
			slog.Int64("sales", salesN),
			slog.Int64("refunds", refundsN),
			slog.Int64("audit", auditN),
			slog.Time("before", before),
		)
	}
}
