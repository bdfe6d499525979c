// Package feed connects venue book streams to the in-memory book registry
// and mirrors fresh top-of-book quotes into the shared price cache.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oddsfair/arbot/internal/book"
	"github.com/oddsfair/arbot/internal/domain"
	"github.com/oddsfair/arbot/internal/events"
)

// DefaultQuoteInterval throttles price-cache writes per token.
const DefaultQuoteInterval = time.Second

// Config tunes one venue feed.
type Config struct {
	// QuoteInterval is the minimum spacing between cache writes for the same
	// token. Zero uses DefaultQuoteInterval.
	QuoteInterval time.Duration
}

// Feed runs one venue's book subscription. Updates land in the registry
// first; the latest best bid/ask is then mirrored to the price cache so the
// position monitor has a fallback when a book goes stale. A crossed book
// makes the registry reset it, and the feed answers by bouncing the
// subscription, which brings fresh snapshots for every token.
type Feed struct {
	cfg    Config
	client domain.ExchangeClient
	books  *book.Registry
	quotes domain.PriceCache
	hub    *events.Hub
	logger *slog.Logger

	mu        sync.Mutex
	tokens    []string
	lastQuote map[string]time.Time

	// restart is a coalescing signal: token set changed or a book was reset.
	restart chan struct{}
}

// New creates a feed for one venue. quotes may be nil when no cache is
// configured.
func New(cfg Config, client domain.ExchangeClient, books *book.Registry, quotes domain.PriceCache, hub *events.Hub, logger *slog.Logger) *Feed {
	if cfg.QuoteInterval <= 0 {
		cfg.QuoteInterval = DefaultQuoteInterval
	}
	return &Feed{
		cfg:       cfg,
		client:    client,
		books:     books,
		quotes:    quotes,
		hub:       hub,
		logger:    logger.With(slog.String("component", "feed"), slog.String("exchange", client.Name())),
		lastQuote: make(map[string]time.Time),
		restart:   make(chan struct{}, 1),
	}
}

// SetTokens replaces the subscription set. The running subscription is
// bounced so the venue resends snapshots for the new set.
func (f *Feed) SetTokens(tokens []string) {
	f.mu.Lock()
	f.tokens = append([]string(nil), tokens...)
	f.mu.Unlock()
	f.requestRestart()
}

// Run drives the subscription until ctx is cancelled. The venue client
// reconnects on transport failures by itself; Run only restarts it when the
// token set changes or a book needs a fresh snapshot.
func (f *Feed) Run(ctx context.Context) error {
	f.books.SetResetHandler(func(tokenID string) {
		f.logger.Warn("book reset, resyncing", slog.String("token", tokenID))
		f.hub.Publish(events.New(events.BookReset, tokenID, nil))
		f.requestRestart()
	})

	f.logger.Info("feed started")
	defer f.logger.Info("feed stopped")

	for {
		f.mu.Lock()
		tokens := append([]string(nil), f.tokens...)
		f.mu.Unlock()

		if len(tokens) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.restart:
				continue
			}
		}

		subCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- f.client.SubscribeBook(subCtx, tokens, f)
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-errCh
			return ctx.Err()
		case <-f.restart:
			cancel()
			<-errCh
		case err := <-errCh:
			cancel()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error("subscription ended, restarting", slog.Any("error", err))
		}
	}
}

// OnSnapshot implements domain.BookSink.
func (f *Feed) OnSnapshot(snap domain.BookSnapshot) {
	f.books.OnSnapshot(snap)
	f.publishQuote(snap.TokenID)
}

// OnDelta implements domain.BookSink.
func (f *Feed) OnDelta(d domain.BookDelta) {
	f.books.OnDelta(d)
	f.publishQuote(d.TokenID)
}

// publishQuote mirrors the current best bid/ask to the price cache, at most
// once per QuoteInterval per token.
func (f *Feed) publishQuote(tokenID string) {
	if f.quotes == nil {
		return
	}

	now := time.Now()
	f.mu.Lock()
	if now.Sub(f.lastQuote[tokenID]) < f.cfg.QuoteInterval {
		f.mu.Unlock()
		return
	}
	f.lastQuote[tokenID] = now
	f.mu.Unlock()

	b, ok := f.books.Get(tokenID)
	if !ok || !b.Synced() {
		return
	}
	q := domain.Quote{TokenID: tokenID, Timestamp: now}
	if bid, ok := b.Best(domain.SideBid); ok {
		q.BidTicks = bid.PriceTicks
	}
	if ask, ok := b.Best(domain.SideAsk); ok {
		q.AskTicks = ask.PriceTicks
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.quotes.SetQuote(ctx, q); err != nil {
		f.logger.Debug("quote cache write failed",
			slog.String("token", tokenID), slog.Any("error", err))
	}
}

func (f *Feed) requestRestart() {
	select {
	case f.restart <- struct{}{}:
	default:
	}
}

var _ domain.BookSink = (*Feed)(nil)
