// Package monitor owns open positions: it marks them against best bids every
// second, feeds the risk manager, and executes exit signals by selling both
// legs, retrying at lower limits until a deadline.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oddsfair/arbot/internal/book"
	"github.com/oddsfair/arbot/internal/domain"
	"github.com/oddsfair/arbot/internal/events"
	"github.com/oddsfair/arbot/internal/ratelimit"
	"github.com/oddsfair/arbot/internal/risk"
)

// Config tunes the monitor. Zero values take defaults.
type Config struct {
	// PollInterval is the mark-to-market cadence.
	PollInterval time.Duration
	// ExitTimeout bounds the whole unwind of one position.
	ExitTimeout time.Duration
	// ExitRetryInterval is the pause between sell attempts.
	ExitRetryInterval time.Duration
	// ExitStepTicks is how far the limit drops on each retry.
	ExitStepTicks int64
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ExitTimeout <= 0 {
		c.ExitTimeout = 30 * time.Second
	}
	if c.ExitRetryInterval <= 0 {
		c.ExitRetryInterval = 3 * time.Second
	}
	if c.ExitStepTicks <= 0 {
		c.ExitStepTicks = 10_000 // one cent
	}
}

// Monitor tracks open positions and unwinds them on exit signals.
type Monitor struct {
	cfg     Config
	books   *book.Registry
	prices  domain.PriceCache
	clients map[string]domain.ExchangeClient
	limiter *ratelimit.Limiter
	riskMgr *risk.Manager
	store   domain.PositionStore
	hub     *events.Hub
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu   sync.RWMutex
	open map[string]*domain.Position
}

// New wires a Monitor. prices and store may be nil (no cache fallback, no
// persistence).
func New(
	cfg Config,
	books *book.Registry,
	prices domain.PriceCache,
	clients map[string]domain.ExchangeClient,
	limiter *ratelimit.Limiter,
	riskMgr *risk.Manager,
	store domain.PositionStore,
	hub *events.Hub,
	logger *slog.Logger,
) *Monitor {
	cfg.defaults()
	return &Monitor{
		cfg:     cfg,
		books:   books,
		prices:  prices,
		clients: clients,
		limiter: limiter,
		riskMgr: riskMgr,
		store:   store,
		hub:     hub,
		logger:  logger.With(slog.String("component", "monitor")),
		now:     time.Now,
		sleep:   sleepCtx,
		open:    make(map[string]*domain.Position),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Open registers a freshly filled position. Implements engine.PositionSink.
func (m *Monitor) Open(ctx context.Context, pos domain.Position) error {
	if m.store != nil {
		if err := m.store.Create(ctx, pos); err != nil {
			return fmt.Errorf("persist position: %w", err)
		}
	}
	m.mu.Lock()
	p := pos
	m.open[pos.ID] = &p
	n := len(m.open)
	m.mu.Unlock()
	m.riskMgr.SetOpenPositions(n)
	return nil
}

// OpenCount implements engine.PositionSink.
func (m *Monitor) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}

// OpenPositions snapshots the open set for status surfaces.
func (m *Monitor) OpenPositions() []domain.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	return out
}

// Restore reloads open positions from the store after a restart.
func (m *Monitor) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	positions, err := m.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	m.mu.Lock()
	for i := range positions {
		p := positions[i]
		m.open[p.ID] = &p
	}
	n := len(m.open)
	m.mu.Unlock()
	m.riskMgr.SetOpenPositions(n)
	m.logger.Info("open positions restored", slog.Int("count", len(positions)))
	return nil
}

// Run polls marks and services exit signals until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.poll(ctx)
		case sig := <-m.riskMgr.Exits():
			go m.exit(ctx, sig)
		}
	}
}

// poll marks every open position against the freshest bids available and
// forwards the marks to the risk manager.
func (m *Monitor) poll(ctx context.Context) {
	for _, pos := range m.OpenPositions() {
		if pos.Status != domain.PositionStatusOpen {
			continue
		}
		bidYes, okY := m.bestBid(ctx, pos.YesToken)
		bidNo, okN := m.bestBid(ctx, pos.NoToken)
		if !okY || !okN {
			continue
		}
		unrealized := pos.UnrealizedMicro(bidYes, bidNo)

		m.mu.Lock()
		if p, ok := m.open[pos.ID]; ok && unrealized > p.HighWaterM {
			p.HighWaterM = unrealized
		}
		m.mu.Unlock()

		m.riskMgr.Mark(pos.ID, pos.EntryMicro, unrealized)
	}
}

// bestBid prefers the in-memory book; when it is missing or stale (e.g. a
// token not yet resubscribed after restart) it falls back to the shared
// price cache.
func (m *Monitor) bestBid(ctx context.Context, tokenID string) (int64, bool) {
	now := m.now()
	if l, at, ok := m.books.BestBid(tokenID); ok && now.Sub(at) <= domain.StaleQuoteAge {
		return l.PriceTicks, true
	}
	if m.prices == nil {
		return 0, false
	}
	q, err := m.prices.GetQuote(ctx, tokenID)
	if err != nil || !q.Fresh(now) || q.BidTicks <= 0 {
		return 0, false
	}
	return q.BidTicks, true
}

// exit unwinds one position: sell both legs against available bids,
// retrying residuals at stepped-down limits until the deadline.
func (m *Monitor) exit(ctx context.Context, sig risk.ExitSignal) {
	m.mu.Lock()
	pos, ok := m.open[sig.PositionID]
	if !ok || pos.Status != domain.PositionStatusOpen {
		m.mu.Unlock()
		return
	}
	pos.Status = domain.PositionStatusExiting
	pos.ExitReason = sig.Reason
	snapshot := *pos
	m.mu.Unlock()

	m.logger.Info("exiting position",
		slog.String("position_id", snapshot.ID),
		slog.String("reason", string(sig.Reason)))

	deadline := m.now().Add(m.cfg.ExitTimeout)
	var proceeds int64
	remYes, remNo := snapshot.SizeUnits, snapshot.SizeUnits

	for attempt := 0; ; attempt++ {
		if remYes > 0 {
			got, sold := m.sellLeg(ctx, snapshot.YesExchange, snapshot.YesMarketID, snapshot.YesToken, remYes, attempt)
			proceeds += got
			remYes -= sold
		}
		if remNo > 0 {
			got, sold := m.sellLeg(ctx, snapshot.NoExchange, snapshot.NoMarketID, snapshot.NoToken, remNo, attempt)
			proceeds += got
			remNo -= sold
		}
		if remYes == 0 && remNo == 0 {
			m.close(ctx, snapshot.ID, proceeds)
			return
		}
		if m.now().After(deadline) || ctx.Err() != nil {
			break
		}
		if err := m.sleep(ctx, m.cfg.ExitRetryInterval); err != nil {
			break
		}
	}

	m.logger.Error("exit incomplete",
		slog.String("position_id", snapshot.ID),
		slog.Float64("residual_yes", domain.UnitsToSize(remYes)),
		slog.Float64("residual_no", domain.UnitsToSize(remNo)))
	m.hub.Publish(events.New(events.ExitIncomplete, snapshot.Key, map[string]any{
		"position_id":  snapshot.ID,
		"residual_yes": domain.UnitsToSize(remYes),
		"residual_no":  domain.UnitsToSize(remNo),
	}))
}

// sellLeg sells up to size units of one leg. Returns proceeds after fees and
// the quantity sold. Each retry steps the limit down one tick increment.
func (m *Monitor) sellLeg(ctx context.Context, exchange, marketID, tokenID string, size int64, attempt int) (proceedsMicro, soldUnits int64) {
	client, ok := m.clients[exchange]
	if !ok {
		return 0, 0
	}
	bid, okBid := m.bestBid(ctx, tokenID)
	if !okBid {
		return 0, 0
	}
	limit := bid - int64(attempt)*m.cfg.ExitStepTicks
	if limit <= 0 {
		limit = m.cfg.ExitStepTicks
	}

	if err := m.limiter.Acquire(ctx, exchange, ratelimit.Critical); err != nil {
		return 0, 0
	}
	res, err := client.PlaceOrder(ctx, domain.OrderRequest{
		MarketID:   marketID,
		TokenID:    tokenID,
		Side:       domain.OrderSideSell,
		Type:       domain.OrderTypeFAK,
		PriceTicks: limit,
		SizeUnits:  size,
	})
	if err != nil {
		m.logger.Warn("exit sell failed",
			slog.String("exchange", exchange),
			slog.String("token", tokenID),
			slog.Any("error", err))
		return 0, 0
	}
	if res.SizeUnits <= 0 {
		return 0, 0
	}
	return domain.NotionalMicro(res.PriceTicks, res.SizeUnits) - res.FeeMicro, res.SizeUnits
}

// close finalizes a fully unwound position and books the realized P&L.
func (m *Monitor) close(ctx context.Context, positionID string, proceedsMicro int64) {
	m.mu.Lock()
	pos, ok := m.open[positionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	realized := proceedsMicro - pos.EntryMicro
	now := m.now()
	pos.Status = domain.PositionStatusClosed
	pos.RealizedMicro = realized
	pos.ClosedAt = &now
	final := *pos
	delete(m.open, positionID)
	n := len(m.open)
	m.mu.Unlock()

	m.riskMgr.SetOpenPositions(n)
	m.riskMgr.RecordPnL(realized)
	m.riskMgr.Forget(positionID)

	if m.store != nil {
		if err := m.store.Update(ctx, final); err != nil {
			m.logger.Error("persist closed position", slog.Any("error", err))
		}
	}

	m.logger.Info("position closed",
		slog.String("position_id", positionID),
		slog.String("reason", string(final.ExitReason)),
		slog.Float64("realized", domain.MicroToDollars(realized)))
	m.hub.Publish(events.New(events.PositionClosed, final.Key, map[string]any{
		"position_id": positionID,
		"reason":      string(final.ExitReason),
		"realized":    domain.MicroToDollars(realized),
	}))
}
