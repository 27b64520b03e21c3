package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/nftmarket/internal/pipeline"
	"github.com/alanyoungcy/nftmarket/internal/server"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
	"github.com/alanyoungcy/nftmarket/internal/service"
)

// ServeMode runs the event relay and, when enabled, the HTTP API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	return a.run(ctx, deps, nil)
}

// ArchiveMode runs a single archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	archiver := a.newArchiver(deps)
	if archiver == nil {
		return fmt.Errorf("archive mode: postgres and s3 must both be enabled")
	}
	return archiver.Run(ctx)
}

// FullMode is ServeMode plus the archive schedule.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	var archiver *pipeline.Archiver
	if a.cfg.Archive.Enabled {
		archiver = a.newArchiver(deps)
	}
	return a.run(ctx, deps, archiver)
}

func (a *App) run(ctx context.Context, deps *Dependencies, archiver *pipeline.Archiver) error {
	g, ctx := errgroup.WithContext(ctx)

	relay := service.NewEventRelay(deps.Engine, deps.EventStore, deps.Projections, deps.SaleStore,
		deps.SignalBus, deps.Notifier, a.logger)
	orch := pipeline.NewOrchestrator(relay, archiver, a.cfg.Archive.Cron, a.logger)
	g.Go(func() error { return orch.Run(ctx) })

	if a.cfg.Server.Enabled {
		srv, hub := a.newServer(deps)
		g.Go(func() error { return hub.Run(ctx) })
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	if senders := deps.Notifier.Senders(); len(senders) > 0 {
		a.logger.InfoContext(ctx, "notifications enabled", slog.String("senders", strings.Join(senders, ",")))
		title := "Marketplace started"
		msg := fmt.Sprintf("mode=%s engine=%s", a.cfg.Mode, deps.Engine.Address().Hex())
		if err := deps.Notifier.NotifyAll(ctx, title, msg); err != nil {
			a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
		}
	}

	return g.Wait()
}

func (a *App) newArchiver(deps *Dependencies) *pipeline.Archiver {
	if deps.Archiver == nil {
		return nil
	}
	return pipeline.NewArchiver(deps.Archiver, deps.LockManager, a.cfg.Archive.RetentionDays, a.logger)
}

// newServer builds the HTTP server and the WebSocket hub relaying committed
// events. History endpoints are registered only when postgres backs them.
func (a *App) newServer(deps *Dependencies) (*server.Server, *ws.Hub) {
	svc := service.NewMarketService(deps.Engine, deps.Ledger, deps.Assets, deps.AuditStore, a.logger)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Market:   handler.NewMarketHandler(svc, a.logger),
		Listings: handler.NewListingHandler(svc, a.logger),
		Offers:   handler.NewOfferHandler(svc, a.logger),
		Assets:   handler.NewAssetHandler(svc, a.logger),
	}
	if deps.EventStore != nil {
		history := service.NewHistoryService(deps.EventStore, deps.Projections, deps.SaleStore)
		handlers.History = handler.NewHistoryHandler(history, a.logger)
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channel:   service.EventsChannel,
		Mode:      a.cfg.Mode,
		Engine:    deps.Engine.Address().Hex(),
		StartedAt: time.Now().UTC(),
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		AuthEnabled: a.cfg.Server.Auth.Enabled,
		MaxSkew:     a.cfg.Server.Auth.MaxSkew.Duration,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, server.Deps{
		Replay:  deps.ReplayGuard,
		Limiter: deps.RateLimiter,
	}, hub, a.logger)
	return srv, hub
}
