// Package risk serializes all P&L accounting through a single writer
// goroutine and turns position marks into exit signals. It owns the daily
// loss halt.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
	"github.com/oddsfair/arbot/internal/events"
)

// Config tunes the risk thresholds. Zero values take defaults.
type Config struct {
	// StopLoss is the unrealized loss ratio that forces an exit.
	StopLoss float64
	// TakeProfit is the unrealized gain ratio that locks in an exit.
	TakeProfit float64
	// MaxDailyLoss halts trading for the rest of the day, dollars.
	MaxDailyLoss float64
	// Location fixes the midnight used for the daily rollover.
	Location *time.Location
}

func (c *Config) defaults() {
	if c.StopLoss <= 0 {
		c.StopLoss = 0.05
	}
	if c.TakeProfit <= 0 {
		c.TakeProfit = 0.10
	}
	if c.MaxDailyLoss <= 0 {
		c.MaxDailyLoss = 50
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// Status is a point-in-time snapshot for operators and the allocator.
type Status struct {
	Halted        bool
	DailyPnLMicro int64
	Day           string // YYYY-MM-DD in the configured location
	OpenPositions int
}

// ExitSignal tells the position monitor to unwind a position.
type ExitSignal struct {
	PositionID      string
	Reason          domain.ExitReason
	UnrealizedMicro int64
}

type cmdRecordPnL struct {
	pnlMicro int64
}

type cmdMark struct {
	positionID      string
	entryMicro      int64
	unrealizedMicro int64
}

type cmdManualExit struct {
	positionID string
}

type cmdForget struct {
	positionID string
}

// Manager is the single writer over risk state. All mutations flow through
// the command queue consumed by Run; reads take a cheap snapshot.
type Manager struct {
	cfg    Config
	cmds   chan any
	exits  chan ExitSignal
	hub    *events.Hub
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	snapshot  Status
	highWater map[string]int64
	signaled  map[string]bool
}

// New creates a Manager. Call Run before feeding it.
func New(cfg Config, hub *events.Hub, logger *slog.Logger) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:       cfg,
		cmds:      make(chan any, 256),
		exits:     make(chan ExitSignal, 64),
		hub:       hub,
		logger:    logger.With(slog.String("component", "risk")),
		now:       time.Now,
		highWater: make(map[string]int64),
		signaled:  make(map[string]bool),
	}
}

// Exits delivers exit signals to the position monitor.
func (m *Manager) Exits() <-chan ExitSignal { return m.exits }

// Run consumes the command queue until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.snapshot.Day = m.today()
	m.mu.Unlock()

	rollover := time.NewTicker(time.Minute)
	defer rollover.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rollover.C:
			m.maybeRollover()
		case cmd := <-m.cmds:
			m.maybeRollover()
			m.handle(cmd)
		}
	}
}

// RecordPnL books realized P&L (positive or negative micro-dollars).
func (m *Manager) RecordPnL(pnlMicro int64) {
	m.cmds <- cmdRecordPnL{pnlMicro: pnlMicro}
}

// Mark feeds one position's current unrealized P&L for exit evaluation.
func (m *Manager) Mark(positionID string, entryMicro, unrealizedMicro int64) {
	m.cmds <- cmdMark{positionID: positionID, entryMicro: entryMicro, unrealizedMicro: unrealizedMicro}
}

// RequestExit asks for a manual unwind of a position.
func (m *Manager) RequestExit(positionID string) {
	m.cmds <- cmdManualExit{positionID: positionID}
}

// Forget clears per-position state once a position has closed.
func (m *Manager) Forget(positionID string) {
	m.cmds <- cmdForget{positionID: positionID}
}

// Halted reports whether new entries are blocked.
func (m *Manager) Halted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Halted
}

// Status returns the current snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// DailyPnLMicro returns today's realized P&L.
func (m *Manager) DailyPnLMicro() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.DailyPnLMicro
}

// HighWater returns the best unrealized value seen for a position.
func (m *Manager) HighWater(positionID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highWater[positionID]
}

func (m *Manager) today() string {
	return m.now().In(m.cfg.Location).Format("2006-01-02")
}

func (m *Manager) maybeRollover() {
	today := m.today()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot.Day == today {
		return
	}
	if m.snapshot.Halted {
		m.logger.Info("daily halt cleared by rollover", slog.String("day", today))
	}
	m.snapshot = Status{Day: today, OpenPositions: m.snapshot.OpenPositions}
}

func (m *Manager) handle(cmd any) {
	switch c := cmd.(type) {
	case cmdRecordPnL:
		m.recordPnL(c.pnlMicro)
	case cmdMark:
		m.mark(c)
	case cmdManualExit:
		m.signalExit(c.positionID, domain.ExitManual, 0)
	case cmdForget:
		m.mu.Lock()
		delete(m.highWater, c.positionID)
		delete(m.signaled, c.positionID)
		m.mu.Unlock()
	}
}

func (m *Manager) recordPnL(pnlMicro int64) {
	m.mu.Lock()
	m.snapshot.DailyPnLMicro += pnlMicro
	daily := m.snapshot.DailyPnLMicro
	halted := m.snapshot.Halted
	limit := -domain.DollarsToMicro(m.cfg.MaxDailyLoss)
	shouldHalt := !halted && daily <= limit
	if shouldHalt {
		m.snapshot.Halted = true
	}
	m.mu.Unlock()

	if shouldHalt {
		m.logger.Warn("daily loss limit reached, trading halted",
			slog.Float64("daily_pnl", domain.MicroToDollars(daily)),
			slog.Float64("limit", -m.cfg.MaxDailyLoss))
		m.hub.Publish(events.New(events.RiskHalted, "", map[string]any{
			"daily_pnl": domain.MicroToDollars(daily),
		}))
	}
}

func (m *Manager) mark(c cmdMark) {
	if c.entryMicro <= 0 {
		return
	}

	m.mu.Lock()
	if c.unrealizedMicro > m.highWater[c.positionID] {
		m.highWater[c.positionID] = c.unrealizedMicro
	}
	already := m.signaled[c.positionID]
	m.mu.Unlock()
	if already {
		return
	}

	ratio := float64(c.unrealizedMicro) / float64(c.entryMicro)
	switch {
	case ratio <= -m.cfg.StopLoss:
		m.signalExit(c.positionID, domain.ExitStopLoss, c.unrealizedMicro)
	case ratio >= m.cfg.TakeProfit:
		m.signalExit(c.positionID, domain.ExitTakeProfit, c.unrealizedMicro)
	}
}

func (m *Manager) signalExit(positionID string, reason domain.ExitReason, unrealizedMicro int64) {
	m.mu.Lock()
	if m.signaled[positionID] {
		m.mu.Unlock()
		return
	}
	m.signaled[positionID] = true
	m.mu.Unlock()

	m.logger.Info("exit signal",
		slog.String("position_id", positionID),
		slog.String("reason", string(reason)),
		slog.Float64("unrealized", domain.MicroToDollars(unrealizedMicro)))

	sig := ExitSignal{PositionID: positionID, Reason: reason, UnrealizedMicro: unrealizedMicro}
	select {
	case m.exits <- sig:
	default:
		m.logger.Error("exit queue full, signal dropped", slog.String("position_id", positionID))
	}
}

// SetOpenPositions updates the open-position gauge in the status snapshot.
func (m *Manager) SetOpenPositions(n int) {
	m.mu.Lock()
	m.snapshot.OpenPositions = n
	m.mu.Unlock()
}
