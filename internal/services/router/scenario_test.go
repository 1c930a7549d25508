package router

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/hybrid-router/internal/adapters/amm"
	"github.com/hxuan190/hybrid-router/internal/adapters/orderbook"
	"github.com/hxuan190/hybrid-router/internal/domain"
)

type venues struct {
	pool *amm.Pool
	amm  *amm.Venue
	book *orderbook.Book
}

func newVenues(t *testing.T, reserveBase, reserveQuote string) venues {
	t.Helper()
	pool, err := amm.NewPool(testPair, 18, 6, d(reserveBase), d(reserveQuote), 30)
	require.NoError(t, err)
	return venues{pool: pool, amm: amm.NewVenue(pool), book: orderbook.NewBook()}
}

func (v venues) ask(t *testing.T, price, amount string) {
	t.Helper()
	_, trades, err := v.book.Place(context.Background(), orderbook.LimitOrder{
		Account: maker, Pair: testPair, Side: domain.SideSell, Price: d(price), Amount: d(amount),
	})
	require.NoError(t, err)
	require.Empty(t, trades)
}

func TestScenarioBookThenAMM(t *testing.T) {
	v := newVenues(t, "1000000", "1000000")
	v.ask(t, "0.99", "200")
	e := NewEngine(v.amm, v.book, nil, DefaultConfig())

	order := marketBuy("1000")
	res := e.Route(context.Background(), order)

	require.Equal(t, domain.StopFilled, res.Stats.StopReason)
	require.GreaterOrEqual(t, len(res.Fills), 2)

	first := res.Fills[0]
	assert.Equal(t, domain.VenueOrderBook, first.Venue)
	assert.True(t, first.Amount.Equal(d("200")))
	assert.True(t, first.Price.Equal(d("0.99")))

	ammFilled := decimal.Zero
	for _, f := range res.Fills[1:] {
		assert.Equal(t, domain.VenueAMM, f.Venue)
		ammFilled = ammFilled.Add(f.Amount)
	}
	assert.True(t, ammFilled.Equal(d("800")))
	assert.Equal(t, 1, res.Stats.BookChunks)
	assert.True(t, res.AveragePrice.GreaterThanOrEqual(d("0.99")))
	assert.True(t, res.TotalFilled.Equal(d("1000")))
	assertConsistent(t, order, res)
}

func TestScenarioEqualPricesDrainBookOnly(t *testing.T) {
	v := newVenues(t, "1000000", "1000000")
	v.ask(t, "1.00", "500")
	e := NewEngine(v.amm, v.book, nil, DefaultConfig())

	order := marketBuy("50")
	res := e.Route(context.Background(), order)

	require.Len(t, res.Fills, 1)
	assert.Equal(t, domain.VenueOrderBook, res.Fills[0].Venue)
	assert.True(t, res.Fills[0].Amount.Equal(d("50")))
	assert.Zero(t, res.Stats.AMMChunks)
	assert.Zero(t, v.pool.SwapCount())

	depth, err := v.book.Depth(context.Background(), testPair, 1)
	require.NoError(t, err)
	assert.True(t, depth.Asks[0].Amount.Equal(d("450")))
}

func TestScenarioEmptyBookAllAMM(t *testing.T) {
	v := newVenues(t, "1000000", "2000000")
	e := NewEngine(v.amm, v.book, nil, DefaultConfig())

	spot, err := v.amm.SpotPrice(context.Background(), testPair)
	require.NoError(t, err)
	require.True(t, spot.Equal(d("2")))

	order := marketBuy("1200")
	res := e.Route(context.Background(), order)

	require.Equal(t, domain.StopFilled, res.Stats.StopReason)
	require.Len(t, res.Fills, 3)
	for _, f := range res.Fills {
		assert.Equal(t, domain.VenueAMM, f.Venue)
		assert.True(t, f.Amount.LessThanOrEqual(DefaultConfig().MaxChunkSize))
		assert.True(t, f.Price.GreaterThan(d("2")))
	}
	assert.True(t, res.TotalFilled.Equal(d("1200")))
	assert.Equal(t, uint64(3), v.pool.SwapCount())
	assertConsistent(t, order, res)
}

func TestScenarioAMMWalksUpToTheBook(t *testing.T) {
	v := newVenues(t, "1000", "1000")
	v.ask(t, "1.05", "1000")
	e := NewEngine(v.amm, v.book, nil, DefaultConfig())

	order := marketBuy("200")
	res := e.Route(context.Background(), order)

	require.Equal(t, domain.StopFilled, res.Stats.StopReason)
	require.GreaterOrEqual(t, len(res.Fills), 2)
	assert.Equal(t, domain.VenueAMM, res.Fills[0].Venue)
	assert.Equal(t, ScenarioAMMToBook, res.Route[0].Scenario)
	assert.Equal(t, domain.VenueOrderBook, res.Fills[len(res.Fills)-1].Venue)

	spot, err := v.amm.SpotPrice(context.Background(), testPair)
	require.NoError(t, err)
	assert.True(t, spot.LessThanOrEqual(d("1.05")), "amm never pushed past the book, got %s", spot)
	for _, f := range res.Fills {
		assert.True(t, f.Price.LessThanOrEqual(d("1.05")))
	}
	assertConsistent(t, order, res)
}

func TestScenarioSellIntoBids(t *testing.T) {
	v := newVenues(t, "1000000", "1000000")
	_, _, err := v.book.Place(context.Background(), orderbook.LimitOrder{
		Account: maker, Pair: testPair, Side: domain.SideBuy, Price: d("1.01"), Amount: d("30"),
	})
	require.NoError(t, err)
	e := NewEngine(v.amm, v.book, nil, DefaultConfig())

	order := domain.NewOrder(taker, testPair, domain.SideSell, domain.OrderKindMarket, d("100"), decimal.Zero)
	res := e.Route(context.Background(), order)

	require.Equal(t, domain.StopFilled, res.Stats.StopReason)
	assert.Equal(t, domain.VenueOrderBook, res.Fills[0].Venue)
	assert.True(t, res.Fills[0].Amount.Equal(d("30")))
	require.Len(t, res.Fills[0].Trades, 1)
	assert.Equal(t, maker, res.Fills[0].Trades[0].Maker)
	assert.True(t, res.TotalFilled.Equal(d("100")))
}

func TestScenarioExactPriceMatchStillReachesTheBook(t *testing.T) {
	v := newVenues(t, "1000", "990")
	v.ask(t, "1.00", "100")
	v.ask(t, "1.01", "100")
	cfg := DefaultConfig()
	cfg.PriceEpsilon = decimal.Zero
	e := NewEngine(v.amm, v.book, nil, cfg)

	order := marketBuy("220")
	res := e.Route(context.Background(), order)

	require.Equal(t, domain.StopFilled, res.Stats.StopReason, "last error: %s", res.Stats.LastError)
	assert.GreaterOrEqual(t, res.Stats.BookChunks, 2)
	assert.Greater(t, res.Stats.AMMChunks, 0)
	assert.Less(t, res.Stats.Iterations, cfg.MaxIterations)

	bookFilled := decimal.Zero
	for _, f := range res.Fills {
		if f.Venue == domain.VenueOrderBook {
			bookFilled = bookFilled.Add(f.Amount)
		}
	}
	assert.True(t, bookFilled.Equal(d("200")), "both ask levels are taken, got %s", bookFilled)

	_, hasAsk, err := v.book.TopOfBook(context.Background(), testPair, domain.SideBuy)
	require.NoError(t, err)
	assert.False(t, hasAsk)
	assertConsistent(t, order, res)
}
