package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/openpredict/marketd/internal/cpmm"
	"github.com/openpredict/marketd/internal/server"
	"github.com/openpredict/marketd/internal/server/handler"
	"github.com/openpredict/marketd/internal/server/ws"
	"github.com/openpredict/marketd/internal/service"
)

// archiveInterval is how often serve mode sweeps for unarchived settlements.
const archiveInterval = time.Minute

// archiveBatchSize bounds one archival sweep.
const archiveBatchSize = 50

// services bundles the constructed service layer.
type services struct {
	markets     *service.MarketService
	trades      *service.TradeService
	resolutions *service.ResolutionService
}

// buildServices constructs the service layer from wired dependencies and the
// engine configuration.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	defaultLiquidity, err := decimal.NewFromString(a.cfg.Engine.DefaultLiquidity)
	if err != nil {
		return nil, fmt.Errorf("app: parse engine.default_liquidity %q: %w", a.cfg.Engine.DefaultLiquidity, err)
	}

	policy := cpmm.PayoutPolicy(a.cfg.Engine.PayoutPolicy)
	lockTTL := a.cfg.Engine.TradeLockTTL.Duration

	return &services{
		markets: service.NewMarketService(
			deps.MarketStore, deps.ProbabilityCache, deps.AuditStore,
			a.logger, defaultLiquidity,
		),
		trades: service.NewTradeService(
			deps.MarketStore, deps.PositionStore, deps.TradeStore,
			deps.LockManager, deps.SignalBus, deps.ProbabilityCache,
			deps.AuditStore, a.logger, lockTTL,
		),
		resolutions: service.NewResolutionService(
			deps.MarketStore, deps.PositionStore, deps.ResolutionStore,
			deps.LockManager, deps.SignalBus, deps.ProbabilityCache,
			deps.AuditStore, deps.Archiver, a.logger, policy, lockTTL,
		),
	}, nil
}

// ServeMode runs the HTTP + WebSocket API together with the background
// settlement archiver. It blocks until the context is cancelled or a
// component fails.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	hub := ws.NewHub(deps.SignalBus, a.logger)

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.PG,
			"redis":    deps.Redis,
		}, a.logger),
		Markets:     handler.NewMarketHandler(svcs.markets, a.logger),
		Trades:      handler.NewTradeHandler(svcs.trades, a.logger),
		Resolutions: handler.NewResolutionHandler(svcs.resolutions, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Forward settlement events to operator webhooks.
	if deps.Notifier != nil {
		g.Go(func() error {
			return a.notifySettlements(ctx, deps)
		})
	}

	// Periodic settlement archival, only when object storage is wired.
	if deps.Archiver != nil {
		g.Go(func() error {
			ticker := time.NewTicker(archiveInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if _, err := svcs.resolutions.ArchivePending(ctx, archiveBatchSize); err != nil {
						a.logger.Error("app: archive sweep failed",
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}

// notifySettlements subscribes to the settlements channel and forwards each
// resolution to the configured notification senders. Delivery failures are
// logged but never stop the subscription.
func (a *App) notifySettlements(ctx context.Context, deps *Dependencies) error {
	msgs, err := deps.SignalBus.Subscribe(ctx, service.SettlementsChannel)
	if err != nil {
		return fmt.Errorf("app: subscribe settlements: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev service.SettlementEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				a.logger.Warn("app: malformed settlement event",
					slog.String("error", err.Error()),
				)
				continue
			}
			title := "Market resolved"
			message := fmt.Sprintf("market %s resolved to %q (policy %s, pool %s, %d winners)",
				ev.MarketID, ev.WinningOutcome, ev.Policy, ev.TotalPool, ev.Winners)
			if err := deps.Notifier.Notify(ctx, ev.Event, title, message); err != nil {
				a.logger.Error("app: settlement notification failed",
					slog.String("market_id", ev.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// SettleMode is a one-shot job that ships every unarchived settlement report
// to object storage and exits.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: settle mode requires s3 to be enabled")
	}

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	total := 0
	for {
		n, err := svcs.resolutions.ArchivePending(ctx, archiveBatchSize)
		total += n
		if err != nil {
			return fmt.Errorf("app: settle: %w", err)
		}
		if n < archiveBatchSize {
			break
		}
	}

	a.logger.InfoContext(ctx, "app: settlements archived",
		slog.Int("count", total),
	)
	return nil
}
