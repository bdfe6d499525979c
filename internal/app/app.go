// Package app wires the bot together and manages its lifecycle: venue
// clients, book feeds, discovery, the arbitrage engine, risk and position
// management, persistence, and the event fan-out.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddsfair/arbot/internal/alloc"
	"github.com/oddsfair/arbot/internal/config"
	"github.com/oddsfair/arbot/internal/engine"
	"github.com/oddsfair/arbot/internal/matcher"
	"github.com/oddsfair/arbot/internal/monitor"
	"github.com/oddsfair/arbot/internal/notify"
	"github.com/oddsfair/arbot/internal/ratelimit"
	"github.com/oddsfair/arbot/internal/risk"
	"github.com/oddsfair/arbot/internal/scorer"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the run loops, and blocks until the
// context is cancelled or a loop fails. Mode "detect" runs the full pipeline
// without placing orders.
func (a *App) Run(ctx context.Context) error {
	detectOnly := strings.ToLower(a.cfg.Mode) == "detect"
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	var loc *time.Location
	if a.cfg.Risk.Timezone != "" {
		loc, err = time.LoadLocation(a.cfg.Risk.Timezone)
		if err != nil {
			return fmt.Errorf("app: risk timezone: %w", err)
		}
	}

	riskMgr := risk.New(risk.Config{
		StopLoss:     a.cfg.Risk.StopLoss,
		TakeProfit:   a.cfg.Risk.TakeProfit,
		MaxDailyLoss: a.cfg.Risk.MaxDailyLoss,
		Location:     loc,
	}, deps.Hub, a.logger)

	limiter := ratelimit.New(ratelimit.Config{
		Critical:    ratelimit.Limit{Requests: a.cfg.RateLimit.CriticalRequests, Window: a.cfg.RateLimit.CriticalWindow.Duration},
		Normal:      ratelimit.Limit{Requests: a.cfg.RateLimit.NormalRequests, Window: a.cfg.RateLimit.NormalWindow.Duration},
		Background:  ratelimit.Limit{Requests: a.cfg.RateLimit.BackgroundRequests, Window: a.cfg.RateLimit.BackgroundWindow.Duration},
		BackoffBase: a.cfg.RateLimit.BackoffBase.Duration,
		BackoffMax:  a.cfg.RateLimit.BackoffMax.Duration,
		MaxRetries:  a.cfg.RateLimit.MaxRetries,
	}, a.logger)

	allocator := alloc.New(alloc.Config{
		BaseStake:     a.cfg.Alloc.BaseStake,
		TargetROI:     a.cfg.Alloc.TargetROI,
		BaselineScore: a.cfg.Alloc.BaselineScore,
		MaxDailyLoss:  a.cfg.Alloc.MaxDailyLoss,
	}, a.logger)

	posMonitor := monitor.New(monitor.Config{
		PollInterval:      a.cfg.Monitor.PollInterval.Duration,
		ExitTimeout:       a.cfg.Monitor.ExitTimeout.Duration,
		ExitRetryInterval: a.cfg.Monitor.ExitRetryInterval.Duration,
		ExitStepTicks:     a.cfg.Monitor.ExitStepTicks,
	}, deps.Books, deps.PriceCache, deps.Clients, limiter, riskMgr, deps.PositionStore, deps.Hub, a.logger)

	eng := engine.New(engine.Config{
		MinProfitMargin:        a.cfg.Engine.MinProfitMargin,
		MinProfitDollars:       a.cfg.Engine.MinProfitDollars,
		TradingFeePercent:      a.cfg.Engine.TradingFeePercent,
		MaxSlippage:            a.cfg.Engine.MaxSlippage,
		Tick:                   a.cfg.Engine.Tick.Duration,
		OrderTimeout:           a.cfg.Engine.OrderTimeout.Duration,
		MaxBookAge:             a.cfg.Engine.MaxBookAge.Duration,
		StaleBookAge:           a.cfg.Engine.StaleBookAge.Duration,
		CooldownWindow:         a.cfg.Engine.CooldownWindow.Duration,
		MaxConcurrentPositions: a.cfg.Engine.MaxConcurrentPositions,
		Workers:                a.cfg.Engine.Workers,
		FallbackBalance:        a.cfg.Engine.FallbackBalance,
		DetectOnly:             detectOnly,
	}, deps.Books, deps.Clients, limiter, allocator, riskMgr, posMonitor, deps.TradeStore, deps.Hub, a.logger)

	sc := scorer.New(scorer.Config{
		RefVolume:    a.cfg.Scorer.RefVolume,
		RefLiquidity: a.cfg.Scorer.RefLiquidity,
		MinScore:     a.cfg.Scorer.MinScore,
	}, deps.Books, a.logger)

	mt := matcher.New(matcher.Config{
		Threshold:   a.cfg.Matcher.Threshold,
		CloseWindow: a.cfg.Matcher.CloseWindow.Duration,
	}, a.logger)

	discovery := NewDiscovery(DiscoveryConfig{
		Interval:        a.cfg.Discovery.Interval.Duration,
		MarketLimit:     a.cfg.Discovery.MarketLimit,
		TopMarkets:      a.cfg.Discovery.TopMarkets,
		MinMarketVolume: a.cfg.Discovery.MinMarketVolume,
		CrossPlatform:   a.cfg.Discovery.CrossPlatform,
	}, deps.Clients, deps.Feeds, sc, mt, limiter, eng, a.logger)

	// Reload positions left open by a previous run before anything trades
	// against them.
	if deps.PositionStore != nil {
		if err := posMonitor.Restore(ctx); err != nil {
			return fmt.Errorf("app: restore positions: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return riskMgr.Run(ctx) })
	g.Go(func() error { return posMonitor.Run(ctx) })
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return discovery.Run(ctx) })
	for _, f := range deps.Feeds {
		f := f
		g.Go(func() error { return f.Run(ctx) })
	}
	if deps.SignalBus != nil {
		g.Go(func() error { return deps.Hub.Bridge(ctx, deps.SignalBus) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	if deps.Notifier != nil {
		relay := notify.NewRelay(deps.Hub, deps.Notifier)
		g.Go(func() error { return relay.Run(ctx) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
