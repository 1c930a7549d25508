package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

func testFill(id, orderID string, chunk int, venue domain.Venue) *domain.Fill {
	f := &domain.Fill{
		ID:         id,
		OrderID:    orderID,
		Account:    "0x1111111111111111111111111111111111111111",
		Pair:       domain.Pair{Base: "ETH", Quote: "USDC"},
		Side:       domain.SideBuy,
		Venue:      venue,
		Price:      decimal.RequireFromString("0.99"),
		Amount:     decimal.RequireFromString("200"),
		ChunkIndex: chunk,
		Timestamp:  time.Unix(1_700_000_000+int64(chunk), 0).UTC(),
	}
	if venue == domain.VenueOrderBook {
		f.Trades = []domain.BookTrade{{ID: id + "-t0", Price: f.Price, Amount: f.Amount}}
	}
	return f
}

func openStore(t *testing.T, path string) *FillStore {
	t.Helper()
	s, err := NewFillStore(path)
	require.NoError(t, err)
	return s
}

func TestFillStoreIdempotentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.db")
	s := openStore(t, path)

	inserted, err := s.SaveFill(testFill("f-1", "o-1", 0, domain.VenueOrderBook))
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := testFill("f-1", "o-1", 0, domain.VenueOrderBook)
	dup.Amount = decimal.RequireFromString("1")
	inserted, err = s.SaveFill(dup)
	require.NoError(t, err)
	assert.False(t, inserted, "second write of the same key is a no-op")

	rec, err := s.GetFill("f-1")
	require.NoError(t, err)
	assert.True(t, rec.Fill.Amount.Equal(decimal.RequireFromString("200")))
	assert.False(t, rec.Settled())
	require.NoError(t, s.Close())

	reopened := openStore(t, path)
	defer reopened.Close()
	inserted, err = reopened.SaveFill(dup)
	require.NoError(t, err)
	assert.False(t, inserted, "idempotency survives restarts")
	assert.Equal(t, 1, reopened.FillCount())
}

func TestFillStoreFillsByOrderAndSettlements(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "fills.db"))
	defer s.Close()

	for _, f := range []*domain.Fill{
		testFill("f-2", "o-1", 1, domain.VenueAMM),
		testFill("f-1", "o-1", 0, domain.VenueOrderBook),
		testFill("f-3", "o-2", 0, domain.VenueAMM),
	} {
		_, err := s.SaveFill(f)
		require.NoError(t, err)
	}

	fills, err := s.FillsByOrder("o-1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, 0, fills[0].ChunkIndex)
	assert.Equal(t, 1, fills[1].ChunkIndex)

	none, err := s.SettlementsForFill("f-1")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.SaveSettlements([]domain.SettlementRecord{
		{TradeID: "f-1-t0", FillID: "f-1", TxRef: "0xabc", SettledAt: time.Now().UTC()},
	}))
	rec, err := s.GetFill("f-1")
	require.NoError(t, err)
	require.Len(t, rec.Settlements, 1)
	assert.Equal(t, "0xabc", rec.Settlements[0].TxRef)
	assert.True(t, rec.Settled())

	_, err = s.GetFill("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFillStoreIndexesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.db")
	s := openStore(t, path)
	for _, f := range []*domain.Fill{
		testFill("f-1", "o-1", 0, domain.VenueOrderBook),
		testFill("f-2", "o-1", 1, domain.VenueOrderBook),
		testFill("f-3", "o-2", 0, domain.VenueAMM),
	} {
		_, err := s.SaveFill(f)
		require.NoError(t, err)
	}
	require.NoError(t, s.SaveSettlements([]domain.SettlementRecord{
		{TradeID: "f-1-t0", FillID: "f-1", TxRef: "0xabc", SettledAt: time.Now().UTC()},
	}))
	require.NoError(t, s.Close())

	reopened := openStore(t, path)
	defer reopened.Close()

	fills, err := reopened.FillsByOrder("o-1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "f-1", fills[0].ID)
	assert.Equal(t, "f-2", fills[1].ID)

	none, err := reopened.FillsByOrder("o-unknown")
	require.NoError(t, err)
	assert.Empty(t, none)

	rec, err := reopened.GetFill("f-1")
	require.NoError(t, err)
	require.Len(t, rec.Settlements, 1)
	assert.Equal(t, "0xabc", rec.Settlements[0].TxRef)

	unsettled, err := reopened.UnsettledBookFills()
	require.NoError(t, err)
	require.Len(t, unsettled, 1, "amm fills and fully settled fills are skipped")
	assert.Equal(t, "f-2", unsettled[0].Fill.ID)
	assert.Empty(t, unsettled[0].Settlements)
}

func TestFillStoreFailedSettlements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.db")
	s := openStore(t, path)

	failed := []domain.FailedSettlement{
		{Trade: domain.PendingTrade{TradeID: "t-1", FillID: "f-1"}, Error: "reverted", FailedAt: time.Now().UTC()},
		{Trade: domain.PendingTrade{TradeID: "t-2", FillID: "f-1"}, Error: "reverted", FailedAt: time.Now().UTC()},
	}
	require.NoError(t, s.SaveFailed(failed))
	require.NoError(t, s.DeleteFailed([]string{"t-2", "never-stored"}))
	require.NoError(t, s.Close())

	reopened := openStore(t, path)
	defer reopened.Close()
	got, err := reopened.LoadFailed()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t-1", got[0].Trade.TradeID)
	assert.Equal(t, "reverted", got[0].Error)
}

func TestClosedFillStoreRefusesWrites(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "fills.db"))
	require.NoError(t, s.Close())

	_, err := s.SaveFill(testFill("f-1", "o-1", 0, domain.VenueOrderBook))
	assert.Error(t, err)
	assert.False(t, s.HasFill("f-1"))
}

func TestBoundedLRUCacheEvicts(t *testing.T) {
	c := NewBoundedLRUCache[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())

	c.Delete("a")
	assert.Equal(t, 1, c.Len())
}

func TestMemoryFillCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryFillCache(4)

	_, ok, err := c.Get(ctx, "f-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, &domain.FillRecord{Fill: *testFill("f-1", "o-1", 0, domain.VenueAMM)}))
	rec, ok, err := c.Get(ctx, "f-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "o-1", rec.Fill.OrderID)

	require.NoError(t, c.Invalidate(ctx, "f-1"))
	_, ok, _ = c.Get(ctx, "f-1")
	assert.False(t, ok)
}

func TestRedisFillCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(ctx).Err())

	c := NewRedisFillCache(client, time.Minute)
	defer c.Close()

	rec := &domain.FillRecord{Fill: *testFill("redis-f-1", "o-1", 0, domain.VenueOrderBook)}
	require.NoError(t, c.Put(ctx, rec))

	got, ok, err := c.Get(ctx, "redis-f-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Fill.Price.Equal(rec.Fill.Price))

	require.NoError(t, c.Invalidate(ctx, "redis-f-1"))
	_, ok, err = c.Get(ctx, "redis-f-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
