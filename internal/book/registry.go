package book

import (
	"errors"
	"sync"
	"time"

	"github.com/oddsfair/arbot/internal/domain"
)

// Registry holds one Book per subscribed token and implements
// domain.BookSink so a feed can write straight into it. When an update
// crosses a book the registry resets it and reports the token through the
// reset handler so the feed can request a fresh snapshot.
type Registry struct {
	mu       sync.RWMutex
	books    map[string]*Book
	maxDepth int
	onReset  func(tokenID string)
}

// NewRegistry creates an empty registry. maxDepth <= 0 uses DefaultMaxDepth.
func NewRegistry(maxDepth int) *Registry {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Registry{books: make(map[string]*Book), maxDepth: maxDepth}
}

var _ domain.BookSink = (*Registry)(nil)

// SetResetHandler registers the callback invoked when a book must be
// resynced. Must be called before the feed starts.
func (r *Registry) SetResetHandler(fn func(tokenID string)) {
	r.onReset = fn
}

// Get returns the book for a token if one exists.
func (r *Registry) Get(tokenID string) (*Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[tokenID]
	return b, ok
}

// Ensure returns the book for a token, creating it if needed.
func (r *Registry) Ensure(tokenID string) *Book {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[tokenID]
	if !ok {
		b = New(tokenID, r.maxDepth)
		r.books[tokenID] = b
	}
	return b
}

// Drop removes a token's book, e.g. when it is unsubscribed.
func (r *Registry) Drop(tokenID string) {
	r.mu.Lock()
	delete(r.books, tokenID)
	r.mu.Unlock()
}

// Tokens lists all tracked tokens.
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.books))
	for id := range r.books {
		out = append(out, id)
	}
	return out
}

// BestBid is a read shortcut used by the position monitor.
func (r *Registry) BestBid(tokenID string) (domain.PriceLevel, time.Time, bool) {
	b, ok := r.Get(tokenID)
	if !ok {
		return domain.PriceLevel{}, time.Time{}, false
	}
	l, ok := b.Best(domain.SideBid)
	if !ok {
		return domain.PriceLevel{}, time.Time{}, false
	}
	return l, b.UpdatedAt(), true
}

// OnSnapshot implements domain.BookSink.
func (r *Registry) OnSnapshot(snap domain.BookSnapshot) {
	b := r.Ensure(snap.TokenID)
	if err := b.ApplySnapshot(snap); err != nil && errors.Is(err, domain.ErrBookCrossed) {
		r.reset(snap.TokenID, b)
	}
}

// OnDelta implements domain.BookSink.
func (r *Registry) OnDelta(d domain.BookDelta) {
	b, ok := r.Get(d.TokenID)
	if !ok {
		return
	}
	if err := b.ApplyDelta(d); err != nil && errors.Is(err, domain.ErrBookCrossed) {
		r.reset(d.TokenID, b)
	}
}

func (r *Registry) reset(tokenID string, b *Book) {
	b.Reset()
	if r.onReset != nil {
		r.onReset(tokenID)
	}
}
