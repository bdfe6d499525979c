// Package ratelimit implements an in-process sliding-window limiter with
// priority classes. Order placement blocks until a slot frees, market
// fetches retry with jittered backoff, metadata calls are shed.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
)

// Class is the priority of a request.
type Class int

const (
	// Critical requests (order placement) block until a slot is free.
	Critical Class = iota
	// Normal requests (market fetches) back off and retry a few times.
	Normal
	// Background requests (metadata) are dropped when the window is full.
	Background
)

func (c Class) String() string {
	switch c {
	case Critical:
		return "critical"
	case Normal:
		return "normal"
	default:
		return "background"
	}
}

// Limit is a window quota.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Config holds per-class quotas applied to every (exchange, class) key.
type Config struct {
	Critical   Limit
	Normal     Limit
	Background Limit

	// Backoff bounds for the Normal class.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxRetries  int
}

func (c *Config) defaults() {
	if c.Critical.Requests == 0 {
		c.Critical = Limit{Requests: 30, Window: 10 * time.Second}
	}
	if c.Normal.Requests == 0 {
		c.Normal = Limit{Requests: 60, Window: time.Minute}
	}
	if c.Background.Requests == 0 {
		c.Background = Limit{Requests: 30, Window: time.Minute}
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
}

// Limiter tracks sliding windows per (exchange, class).
type Limiter struct {
	cfg    Config
	mu     sync.Mutex
	hits   map[string][]time.Time
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a limiter.
func New(cfg Config, logger *slog.Logger) *Limiter {
	cfg.defaults()
	return &Limiter{
		cfg:    cfg,
		hits:   make(map[string][]time.Time),
		logger: logger.With(slog.String("component", "ratelimit")),
		now:    time.Now,
		sleep:  sleepCtx,
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

func (l *Limiter) limitFor(class Class) Limit {
	switch class {
	case Critical:
		return l.cfg.Critical
	case Normal:
		return l.cfg.Normal
	default:
		return l.cfg.Background
	}
}

// tryTake consumes a slot if the window allows it. Returns the wait until
// the earliest slot frees when it does not.
func (l *Limiter) tryTake(key string, lim Limit) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-lim.Window)
	window := l.hits[key]
	keep := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	if len(keep) < lim.Requests {
		keep = append(keep, now)
		l.hits[key] = keep
		return true, 0
	}
	l.hits[key] = keep
	return false, keep[0].Add(lim.Window).Sub(now)
}

// Acquire blocks, retries or drops according to the class, and returns nil
// once a slot has been consumed.
func (l *Limiter) Acquire(ctx context.Context, exchange string, class Class) error {
	key := exchange + "/" + class.String()
	lim := l.limitFor(class)

	switch class {
	case Critical:
		for {
			ok, wait := l.tryTake(key, lim)
			if ok {
				return nil
			}
			if wait < 10*time.Millisecond {
				wait = 10 * time.Millisecond
			}
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}

	case Normal:
		for attempt := 0; ; attempt++ {
			ok, _ := l.tryTake(key, lim)
			if ok {
				return nil
			}
			if attempt >= l.cfg.MaxRetries {
				return fmt.Errorf("%s %s after %d retries: %w", exchange, class, attempt, domain.ErrRateLimited)
			}
			backoff := l.cfg.BackoffBase << attempt
			if backoff > l.cfg.BackoffMax {
				backoff = l.cfg.BackoffMax
			}
			// Full jitter: uniform in (0, backoff].
			wait := time.Duration(rand.Int63n(int64(backoff))) + time.Millisecond
			l.logger.Debug("rate limited, backing off",
				slog.String("exchange", exchange),
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait))
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
		}

	default:
		if ok, _ := l.tryTake(key, lim); !ok {
			return fmt.Errorf("%s %s shed: %w", exchange, class, domain.ErrRateLimited)
		}
		return nil
	}
}
