package risk

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/domain"
	"github.com/oddsfair/arbot/internal/events"
)

func startManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(cfg, events.NewHub(logger), logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = m.Run(ctx) }()
	return m
}

func TestDailyLossHalt(t *testing.T) {
	m := startManager(t, Config{MaxDailyLoss: 50})

	m.RecordPnL(domain.DollarsToMicro(-30))
	require.Eventually(t, func() bool {
		return m.DailyPnLMicro() == domain.DollarsToMicro(-30)
	}, time.Second, time.Millisecond)
	assert.False(t, m.Halted())

	m.RecordPnL(domain.DollarsToMicro(-25))
	require.Eventually(t, m.Halted, time.Second, time.Millisecond)
}

func TestProfitOffsetsLoss(t *testing.T) {
	m := startManager(t, Config{MaxDailyLoss: 50})

	m.RecordPnL(domain.DollarsToMicro(20))
	m.RecordPnL(domain.DollarsToMicro(-60))
	require.Eventually(t, func() bool {
		return m.DailyPnLMicro() == domain.DollarsToMicro(-40)
	}, time.Second, time.Millisecond)
	assert.False(t, m.Halted())
}

func TestStopLossSignal(t *testing.T) {
	m := startManager(t, Config{StopLoss: 0.05, TakeProfit: 0.10})

	entry := domain.DollarsToMicro(100)
	m.Mark("p1", entry, domain.DollarsToMicro(-2)) // -2%: hold
	m.Mark("p1", entry, domain.DollarsToMicro(-6)) // -6%: stop

	select {
	case sig := <-m.Exits():
		assert.Equal(t, "p1", sig.PositionID)
		assert.Equal(t, domain.ExitStopLoss, sig.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected stop-loss signal")
	}
}

func TestTakeProfitSignal(t *testing.T) {
	m := startManager(t, Config{StopLoss: 0.05, TakeProfit: 0.10})

	entry := domain.DollarsToMicro(100)
	m.Mark("p2", entry, domain.DollarsToMicro(12))

	select {
	case sig := <-m.Exits():
		assert.Equal(t, domain.ExitTakeProfit, sig.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected take-profit signal")
	}
}

func TestExitSignaledOnce(t *testing.T) {
	m := startManager(t, Config{StopLoss: 0.05})

	entry := domain.DollarsToMicro(100)
	m.Mark("p3", entry, domain.DollarsToMicro(-10))
	m.Mark("p3", entry, domain.DollarsToMicro(-20))

	<-m.Exits()
	select {
	case <-m.Exits():
		t.Fatal("duplicate exit signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestForgetReleasesPosition(t *testing.T) {
	m := startManager(t, Config{StopLoss: 0.05})

	entry := domain.DollarsToMicro(100)
	m.Mark("p4", entry, domain.DollarsToMicro(-10))
	<-m.Exits()

	m.Forget("p4")
	require.Eventually(t, func() bool {
		return m.HighWater("p4") == 0
	}, time.Second, time.Millisecond)

	// Same ID can signal again after Forget (e.g. reused key).
	m.Mark("p4", entry, domain.DollarsToMicro(-10))
	select {
	case <-m.Exits():
	case <-time.After(time.Second):
		t.Fatal("expected signal after Forget")
	}
}

func TestHighWaterTracksBestMark(t *testing.T) {
	m := startManager(t, Config{TakeProfit: 0.50})

	entry := domain.DollarsToMicro(100)
	m.Mark("p5", entry, domain.DollarsToMicro(3))
	m.Mark("p5", entry, domain.DollarsToMicro(8))
	m.Mark("p5", entry, domain.DollarsToMicro(5))

	require.Eventually(t, func() bool {
		return m.HighWater("p5") == domain.DollarsToMicro(8)
	}, time.Second, time.Millisecond)
}

func TestRolloverClearsHalt(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(Config{MaxDailyLoss: 10, Location: time.UTC}, events.NewHub(logger), logger)

	var mu sync.Mutex
	day := time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return day
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	m.RecordPnL(domain.DollarsToMicro(-20))
	require.Eventually(t, m.Halted, time.Second, time.Millisecond)

	// Cross midnight; the next command triggers the rollover.
	mu.Lock()
	day = day.Add(2 * time.Hour)
	mu.Unlock()
	m.RecordPnL(0)
	require.Eventually(t, func() bool {
		return !m.Halted() && m.DailyPnLMicro() == 0
	}, time.Second, time.Millisecond)
}
