package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/domain"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	l := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Now()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestBackgroundShedsWhenFull(t *testing.T) {
	l, _ := newTestLimiter(Config{Background: Limit{Requests: 2, Window: time.Minute}})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "polymarket", Background))
	require.NoError(t, l.Acquire(ctx, "polymarket", Background))
	err := l.Acquire(ctx, "polymarket", Background)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestWindowSlides(t *testing.T) {
	l, now := newTestLimiter(Config{Background: Limit{Requests: 1, Window: time.Minute}})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "kalshi", Background))
	assert.ErrorIs(t, l.Acquire(ctx, "kalshi", Background), domain.ErrRateLimited)

	*now = now.Add(61 * time.Second)
	assert.NoError(t, l.Acquire(ctx, "kalshi", Background))
}

func TestExchangesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{Background: Limit{Requests: 1, Window: time.Minute}})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "polymarket", Background))
	assert.NoError(t, l.Acquire(ctx, "kalshi", Background))
}

func TestCriticalBlocksUntilSlotFrees(t *testing.T) {
	l, now := newTestLimiter(Config{Critical: Limit{Requests: 1, Window: time.Second}})
	var slept time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		slept += d
		*now = now.Add(d)
		return nil
	}
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "polymarket", Critical))
	require.NoError(t, l.Acquire(ctx, "polymarket", Critical), "blocks then succeeds, never drops")
	assert.Greater(t, slept, time.Duration(0))
}

func TestCriticalHonorsContext(t *testing.T) {
	l, _ := newTestLimiter(Config{Critical: Limit{Requests: 1, Window: time.Minute}})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Acquire(ctx, "polymarket", Critical))
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx, "polymarket", Critical), context.Canceled)
}

func TestNormalRetriesThenFails(t *testing.T) {
	l, _ := newTestLimiter(Config{
		Normal:      Limit{Requests: 1, Window: time.Hour},
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		MaxRetries:  2,
	})
	var sleeps int
	l.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "polymarket", Normal))
	err := l.Acquire(ctx, "polymarket", Normal)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 2, sleeps)
}
