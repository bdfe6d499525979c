package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsfair/arbot/internal/domain"
)

type fakeStore struct {
	uploads map[string][]byte
	exists  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: make(map[string][]byte), exists: true}
}

func (s *fakeStore) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.uploads[path] = buf
	return nil
}

func (s *fakeStore) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return s.Put(ctx, path, data, "")
}

func (s *fakeStore) Exists(ctx context.Context, path string) (bool, error) {
	if !s.exists {
		return false, nil
	}
	_, ok := s.uploads[path]
	return ok, nil
}

type fakeTrades struct {
	trades  []domain.Trade
	deleted *time.Time
}

func (f *fakeTrades) InsertBatch(ctx context.Context, trades []domain.Trade) error { return nil }

func (f *fakeTrades) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (f *fakeTrades) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range f.trades {
		if t.ExecutedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTrades) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	f.deleted = &before
	n := int64(0)
	kept := f.trades[:0]
	for _, t := range f.trades {
		if t.ExecutedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	f.trades = kept
	return n, nil
}

func (f *fakeTrades) SumFeesSince(ctx context.Context, since time.Time) (int64, error) {
	return 0, nil
}

func testArchiver(store *fakeStore, trades *fakeTrades) *Archiver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Archiver{
		cfg:    ArchiverConfig{Retention: DefaultRetention, SweepInterval: DefaultSweepInterval},
		writer: store,
		reader: store,
		trades: trades,
		logger: logger,
		now:    time.Now,
	}
}

func tradeAt(id string, at time.Time) domain.Trade {
	return domain.Trade{
		ID:         id,
		Exchange:   "polymarket",
		MarketID:   "polymarket:0xabc",
		TokenID:    "111",
		Side:       domain.OrderSideBuy,
		PriceTicks: 450_000,
		SizeUnits:  10_000_000,
		ExecutedAt: at,
	}
}

func TestArchiveTradesUploadsAndPrunes(t *testing.T) {
	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	trades := &fakeTrades{trades: []domain.Trade{
		tradeAt("t1", cutoff.Add(-48*time.Hour)),
		tradeAt("t2", cutoff.Add(-24*time.Hour)),
		tradeAt("t3", cutoff.Add(time.Hour)), // too new to archive
	}}

	a := testArchiver(store, trades)
	n, err := a.ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	blob, ok := store.uploads["archive/trades/2026-07.jsonl"]
	require.True(t, ok)

	var lines []domain.Trade
	scanner := bufio.NewScanner(bytes.NewReader(blob))
	for scanner.Scan() {
		var tr domain.Trade
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &tr))
		lines = append(lines, tr)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "t1", lines[0].ID)
	assert.Equal(t, "t2", lines[1].ID)

	// Only the archived rows are gone.
	require.Len(t, trades.trades, 1)
	assert.Equal(t, "t3", trades.trades[0].ID)
}

func TestArchiveTradesNothingToDo(t *testing.T) {
	store := newFakeStore()
	trades := &fakeTrades{}

	a := testArchiver(store, trades)
	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.uploads)
	assert.Nil(t, trades.deleted)
}

func TestArchiveTradesKeepsRowsWhenVerifyFails(t *testing.T) {
	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.exists = false
	trades := &fakeTrades{trades: []domain.Trade{tradeAt("t1", cutoff.Add(-time.Hour))}}

	a := testArchiver(store, trades)
	_, err := a.ArchiveTrades(context.Background(), cutoff)
	require.Error(t, err)
	assert.Nil(t, trades.deleted)
	assert.Len(t, trades.trades, 1)
}
