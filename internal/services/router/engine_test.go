package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

const (
	taker = "0x1111111111111111111111111111111111111111"
	maker = "0x2222222222222222222222222222222222222222"
)

var testPair = domain.Pair{Base: "WETH", Quote: "USDC"}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakeAMM struct {
	mu      sync.Mutex
	spot    decimal.Decimal
	spotErr error
	swapErr error
	reach   decimal.Decimal
	// execute overrides the default full fill at spot
	execute func(amount decimal.Decimal) *domain.SwapResult
	// onSpot runs on every price read
	onSpot func(f *fakeAMM)

	spotCalls int
	swaps     []decimal.Decimal
	bounds    []decimal.Decimal
}

func (f *fakeAMM) SpotPrice(context.Context, domain.Pair) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spotCalls++
	if f.onSpot != nil {
		f.onSpot(f)
	}
	return f.spot, f.spotErr
}

func (f *fakeAMM) Quote(_ context.Context, _ domain.Pair, _ domain.Side, amount decimal.Decimal) (*domain.SwapResult, error) {
	return &domain.SwapResult{ExecutedBase: amount, EffectivePrice: f.spot, PriceImpact: d("0.01")}, nil
}

func (f *fakeAMM) AmountToReachPrice(context.Context, domain.Pair, decimal.Decimal, domain.Side) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reach, nil
}

func (f *fakeAMM) run(amount decimal.Decimal) (*domain.SwapResult, error) {
	f.swaps = append(f.swaps, amount)
	if f.swapErr != nil {
		return nil, f.swapErr
	}
	if f.execute != nil {
		return f.execute(amount), nil
	}
	return &domain.SwapResult{ExecutedBase: amount, EffectivePrice: f.spot, PriceImpact: d("0.001")}, nil
}

func (f *fakeAMM) Swap(_ context.Context, _ domain.Pair, _ domain.Side, amount decimal.Decimal) (*domain.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.run(amount)
}

func (f *fakeAMM) SwapUntilPrice(_ context.Context, _ domain.Pair, _ domain.Side, amount, bound decimal.Decimal) (*domain.SwapResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bounds = append(f.bounds, bound)
	return f.run(amount)
}

func (f *fakeAMM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spotCalls + len(f.swaps)
}

// fakeBook has a single opposing level.
type fakeBook struct {
	mu        sync.Mutex
	price     decimal.Decimal
	size      decimal.Decimal
	depthSize *decimal.Decimal
	topErr    error
	noTrades  bool
	overfill  bool

	topCalls int
	submits  []decimal.Decimal
	refs     []decimal.Decimal
}

func (b *fakeBook) TopOfBook(context.Context, domain.Pair, domain.Side) (decimal.Decimal, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topCalls++
	if b.topErr != nil {
		return decimal.Zero, false, b.topErr
	}
	return b.price, b.size.IsPositive(), nil
}

func (b *fakeBook) Depth(context.Context, domain.Pair, int) (*domain.BookDepth, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	size := b.size
	if b.depthSize != nil {
		size = *b.depthSize
	}
	lvl := []domain.PriceLevel{{Price: b.price, Amount: size}}
	return &domain.BookDepth{Pair: testPair, Bids: lvl, Asks: lvl}, nil
}

func (b *fakeBook) SubmitMarketOrder(_ context.Context, _ domain.Pair, side domain.Side, amount, ref decimal.Decimal, taker string) ([]domain.BookTrade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits = append(b.submits, amount)
	b.refs = append(b.refs, ref)
	if b.noTrades {
		return nil, nil
	}
	take := decimal.Min(amount, b.size)
	if b.overfill {
		take = amount.Add(d("1"))
	}
	b.size = b.size.Sub(decimal.Min(take, b.size))
	return []domain.BookTrade{{ID: "t", Maker: maker, Taker: taker, TakerSide: side, Price: b.price, Amount: take}}, nil
}

func (b *fakeBook) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topCalls + len(b.submits)
}

type recorderFunc func(ctx context.Context, order *domain.Order, fill *domain.Fill) error

func (f recorderFunc) Record(ctx context.Context, order *domain.Order, fill *domain.Fill) error {
	return f(ctx, order, fill)
}

func marketBuy(amount string) *domain.Order {
	return domain.NewOrder(taker, testPair, domain.SideBuy, domain.OrderKindMarket, d(amount), decimal.Zero)
}

func limitOrder(side domain.Side, amount, limit string) *domain.Order {
	return domain.NewOrder(taker, testPair, side, domain.OrderKindLimit, d(amount), d(limit))
}

func assertConsistent(t *testing.T, order *domain.Order, res *domain.RoutingResult) {
	t.Helper()
	sum := decimal.Zero
	remaining := order.Amount
	for i, f := range res.Fills {
		assert.True(t, f.Amount.IsPositive(), "chunk %d must be positive", i)
		assert.True(t, f.Amount.LessThanOrEqual(remaining), "chunk %d exceeds remaining", i)
		assert.Equal(t, i, f.ChunkIndex)
		remaining = remaining.Sub(f.Amount)
		sum = sum.Add(f.Amount)
	}
	assert.True(t, sum.Equal(order.Amount.Sub(order.Remaining)), "fills %s != filled %s", sum, order.Filled())
	assert.True(t, res.TotalFilled.Equal(sum))
	assert.True(t, res.Remaining.Equal(order.Remaining))
	assert.Len(t, res.Route, len(res.Fills))
	assert.Equal(t, res.Stats.Chunks, len(res.Fills))
	assert.Equal(t, res.Stats.Chunks, res.Stats.AMMChunks+res.Stats.BookChunks)
	assert.LessOrEqual(t, res.Stats.Iterations, DefaultConfig().MaxIterations)
}

func TestRouteNothingRemainingTouchesNoVenue(t *testing.T) {
	amm := &fakeAMM{spot: d("1")}
	book := &fakeBook{price: d("1"), size: d("10")}
	e := NewEngine(amm, book, nil, DefaultConfig())

	order := marketBuy("10")
	order.Remaining = decimal.Zero
	res := e.Route(context.Background(), order)

	assert.Empty(t, res.Fills)
	assert.Equal(t, domain.StopFilled, res.Stats.StopReason)
	assert.Zero(t, res.Stats.Iterations)
	assert.Zero(t, amm.calls())
	assert.Zero(t, book.calls())
}

func TestRouteScenarioSelection(t *testing.T) {
	tests := []struct {
		name      string
		ammSpot   string
		bookPrice string
		bookSize  string
		side      domain.Side
		wantVenue domain.Venue
		wantScen  string
	}{
		{name: "empty book goes to amm", ammSpot: "1", bookSize: "0", side: domain.SideBuy, wantVenue: domain.VenueAMM, wantScen: ScenarioAMMOnly},
		{name: "equal prices drain the book", ammSpot: "1", bookPrice: "1.00005", bookSize: "100", side: domain.SideBuy, wantVenue: domain.VenueOrderBook, wantScen: ScenarioBookDrain},
		{name: "cheaper amm for a buyer", ammSpot: "1", bookPrice: "1.1", bookSize: "100", side: domain.SideBuy, wantVenue: domain.VenueAMM, wantScen: ScenarioAMMToBook},
		{name: "cheaper book for a buyer", ammSpot: "1.1", bookPrice: "1", bookSize: "100", side: domain.SideBuy, wantVenue: domain.VenueOrderBook, wantScen: ScenarioBookFirst},
		{name: "higher amm for a seller", ammSpot: "1.1", bookPrice: "1", bookSize: "100", side: domain.SideSell, wantVenue: domain.VenueAMM, wantScen: ScenarioAMMToBook},
		{name: "higher bid for a seller", ammSpot: "1", bookPrice: "1.1", bookSize: "100", side: domain.SideSell, wantVenue: domain.VenueOrderBook, wantScen: ScenarioBookFirst},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price := decimal.Zero
			if tt.bookPrice != "" {
				price = d(tt.bookPrice)
			}
			amm := &fakeAMM{spot: d(tt.ammSpot), reach: d("1000")}
			book := &fakeBook{price: price, size: d(tt.bookSize)}
			e := NewEngine(amm, book, nil, DefaultConfig())

			order := domain.NewOrder(taker, testPair, tt.side, domain.OrderKindMarket, d("5"), decimal.Zero)
			res := e.Route(context.Background(), order)

			require.NotEmpty(t, res.Route)
			assert.Equal(t, tt.wantVenue, res.Route[0].Venue)
			assert.Equal(t, tt.wantScen, res.Route[0].Scenario)
			assert.Equal(t, domain.StopFilled, res.Stats.StopReason)
			assertConsistent(t, order, res)
		})
	}
}

func TestAMMChunkIsBoundedByBookPrice(t *testing.T) {
	amm := &fakeAMM{spot: d("1"), reach: d("3")}
	book := &fakeBook{price: d("1.1"), size: d("100")}
	e := NewEngine(amm, book, nil, DefaultConfig())

	res := e.Route(context.Background(), marketBuy("50"))
	require.NotEmpty(t, amm.bounds)
	assert.True(t, amm.bounds[0].Equal(d("1.1")))
	assert.True(t, amm.swaps[0].Equal(d("3")), "clipped to the amount that reaches the book price")
	assert.True(t, res.Route[0].PriceImpact.Valid)
}

func TestAMMChunkIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAMMChunkSize = d("2")
	amm := &fakeAMM{spot: d("1"), reach: d("1000")}
	book := &fakeBook{price: d("1.1"), size: d("100")}
	e := NewEngine(amm, book, nil, cfg)

	order := marketBuy("5")
	res := e.Route(context.Background(), order)
	require.Len(t, res.Fills, 3)
	assert.True(t, res.Fills[0].Amount.Equal(d("2")))
	assert.True(t, res.Fills[2].Amount.Equal(d("1")))
	assertConsistent(t, order, res)
}

func TestEmptyBookChunkIsCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunkSize = d("4")
	amm := &fakeAMM{spot: d("2")}
	e := NewEngine(amm, &fakeBook{}, nil, cfg)

	order := marketBuy("10")
	res := e.Route(context.Background(), order)
	require.Len(t, res.Fills, 3)
	for _, f := range res.Fills {
		assert.True(t, f.Amount.LessThanOrEqual(d("4")))
	}
	assertConsistent(t, order, res)
}

func TestAdversarialVenuesStopAtIterationBound(t *testing.T) {
	cfg := DefaultConfig()
	// the AMM always looks a little better and fills a sliver
	amm := &fakeAMM{
		spot:  d("1"),
		reach: d("1000"),
		onSpot: func(f *fakeAMM) {
			f.spot = f.spot.Sub(d("0.0000001"))
		},
		execute: func(decimal.Decimal) *domain.SwapResult {
			return &domain.SwapResult{ExecutedBase: d("0.001"), EffectivePrice: d("1")}
		},
	}
	book := &fakeBook{price: d("1.5"), size: d("1000")}
	e := NewEngine(amm, book, nil, cfg)

	order := marketBuy("500")
	res := e.Route(context.Background(), order)

	assert.Equal(t, domain.StopMaxIterations, res.Stats.StopReason)
	assert.Equal(t, cfg.MaxIterations, res.Stats.Iterations)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, res.Status)
	assert.True(t, res.UnderFilled())
	assertConsistent(t, order, res)
}

func TestDustStopsTheLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinChunkSize = d("0.5")
	amm := &fakeAMM{
		spot: d("1"),
		execute: func(amount decimal.Decimal) *domain.SwapResult {
			return &domain.SwapResult{ExecutedBase: amount.Sub(d("0.25")), EffectivePrice: d("1")}
		},
	}
	e := NewEngine(amm, &fakeBook{}, nil, cfg)

	order := marketBuy("10")
	res := e.Route(context.Background(), order)
	assert.Equal(t, domain.StopDust, res.Stats.StopReason)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.True(t, res.Remaining.Equal(d("0.25")))
}

func TestCancelledBeforeStart(t *testing.T) {
	amm := &fakeAMM{spot: d("1")}
	book := &fakeBook{}
	e := NewEngine(amm, book, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Route(ctx, marketBuy("10"))

	assert.Equal(t, domain.StopCancelled, res.Stats.StopReason)
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)
	assert.Empty(t, res.Fills)
	assert.Zero(t, amm.calls())
}

func TestCancelMidRouteKeepsExecutedChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunkSize = d("1")
	amm := &fakeAMM{spot: d("1")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var recorded int
	rec := recorderFunc(func(ctx context.Context, _ *domain.Order, _ *domain.Fill) error {
		recorded++
		assert.NoError(t, ctx.Err(), "chunks run on a context that survives cancellation")
		if recorded == 2 {
			cancel()
		}
		return nil
	})
	e := NewEngine(amm, &fakeBook{}, rec, cfg)

	order := marketBuy("10")
	res := e.Route(ctx, order)
	assert.Equal(t, domain.StopCancelled, res.Stats.StopReason)
	assert.Len(t, res.Fills, 2)
	assert.True(t, res.Remaining.Equal(d("8")))
	assertConsistent(t, order, res)
}

func TestVenueErrorEndsLoopWithPartialResult(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunkSize = d("2")
	amm := &fakeAMM{spot: d("1")}
	rec := recorderFunc(func(context.Context, *domain.Order, *domain.Fill) error {
		amm.swapErr = errors.New("rpc timeout")
		return nil
	})
	e := NewEngine(amm, &fakeBook{}, rec, cfg)

	order := marketBuy("10")
	res := e.Route(context.Background(), order)
	assert.Equal(t, domain.StopVenueError, res.Stats.StopReason)
	assert.Contains(t, res.Stats.LastError, "rpc timeout")
	assert.Len(t, res.Fills, 1)
	assert.Len(t, amm.swaps, 2, "failed calls are not retried")
	assertConsistent(t, order, res)
}

func TestPriceReadFailures(t *testing.T) {
	e := NewEngine(&fakeAMM{spotErr: errors.New("down")}, &fakeBook{}, nil, DefaultConfig())
	res := e.Route(context.Background(), marketBuy("1"))
	assert.Equal(t, domain.StopVenueError, res.Stats.StopReason)
	assert.Equal(t, domain.OrderStatusExpired, res.Status)

	e = NewEngine(&fakeAMM{spot: d("1")}, &fakeBook{topErr: errors.New("down")}, nil, DefaultConfig())
	res = e.Route(context.Background(), marketBuy("1"))
	assert.Equal(t, domain.StopVenueError, res.Stats.StopReason)
	assert.Contains(t, res.Stats.LastError, "orderbook")
}

func TestZeroLiquidityAndNoProgress(t *testing.T) {
	zero := decimal.Zero
	book := &fakeBook{price: d("1"), size: d("10"), depthSize: &zero}
	e := NewEngine(&fakeAMM{spot: d("1.2")}, book, nil, DefaultConfig())
	res := e.Route(context.Background(), marketBuy("1"))
	assert.Equal(t, domain.StopZeroLiquidity, res.Stats.StopReason)
	assert.Empty(t, book.submits)

	book = &fakeBook{price: d("1"), size: d("10"), noTrades: true}
	e = NewEngine(&fakeAMM{spot: d("1.2")}, book, nil, DefaultConfig())
	res = e.Route(context.Background(), marketBuy("1"))
	assert.Equal(t, domain.StopNoProgress, res.Stats.StopReason)
	assert.Empty(t, res.Fills)
}

func TestStuckAMMFallsThroughToTheBook(t *testing.T) {
	t.Run("nothing left to reach the book price", func(t *testing.T) {
		amm := &fakeAMM{spot: d("1"), reach: d("0.0000001")}
		book := &fakeBook{price: d("1.2"), size: d("10")}
		e := NewEngine(amm, book, nil, DefaultConfig())

		order := marketBuy("1")
		res := e.Route(context.Background(), order)
		assert.Equal(t, domain.StopFilled, res.Stats.StopReason)
		assert.Empty(t, amm.swaps)
		require.Len(t, res.Route, 1)
		assert.Equal(t, ScenarioBookDrain, res.Route[0].Scenario)
		assert.Equal(t, domain.VenueOrderBook, res.Route[0].Venue)
		assertConsistent(t, order, res)
	})

	t.Run("clipped swap executes nothing", func(t *testing.T) {
		amm := &fakeAMM{
			spot:    d("1"),
			reach:   d("1000"),
			execute: func(decimal.Decimal) *domain.SwapResult { return &domain.SwapResult{} },
		}
		book := &fakeBook{price: d("1.2"), size: d("10")}
		e := NewEngine(amm, book, nil, DefaultConfig())

		order := marketBuy("4")
		res := e.Route(context.Background(), order)
		assert.Equal(t, domain.StopFilled, res.Stats.StopReason)
		assert.Len(t, amm.swaps, 1)
		assert.Equal(t, 1, res.Stats.BookChunks)
		assert.Zero(t, res.Stats.AMMChunks)
		assertConsistent(t, order, res)
	})

	t.Run("limit tighter than the book is spent", func(t *testing.T) {
		amm := &fakeAMM{spot: d("1"), reach: decimal.Zero}
		book := &fakeBook{price: d("1.2"), size: d("10")}
		e := NewEngine(amm, book, nil, DefaultConfig())

		res := e.Route(context.Background(), limitOrder(domain.SideBuy, "1", "1.1"))
		assert.Equal(t, domain.StopLimitReached, res.Stats.StopReason)
		assert.Empty(t, book.submits)
		assert.Empty(t, res.Fills)
	})
}

func TestZeroLiquidityBookAfterStuckAMM(t *testing.T) {
	zero := decimal.Zero
	amm := &fakeAMM{spot: d("1"), reach: decimal.Zero}
	book := &fakeBook{price: d("1.2"), size: d("10"), depthSize: &zero}
	e := NewEngine(amm, book, nil, DefaultConfig())

	res := e.Route(context.Background(), marketBuy("1"))
	assert.Equal(t, domain.StopZeroLiquidity, res.Stats.StopReason)
	assert.Empty(t, amm.swaps)
	assert.Empty(t, book.submits)
}


func TestOverfillIsRejected(t *testing.T) {
	book := &fakeBook{price: d("1"), size: d("10"), overfill: true}
	e := NewEngine(&fakeAMM{spot: d("1.2")}, book, nil, DefaultConfig())

	order := marketBuy("1")
	res := e.Route(context.Background(), order)
	assert.Equal(t, domain.StopVenueError, res.Stats.StopReason)
	assert.Contains(t, res.Stats.LastError, ErrOverfill.Error())
	assert.Empty(t, res.Fills)
	assert.True(t, order.Remaining.Equal(d("1")))
}

func TestRecorderFailureStopsTheLoop(t *testing.T) {
	rec := recorderFunc(func(context.Context, *domain.Order, *domain.Fill) error {
		return errors.New("disk full")
	})
	book := &fakeBook{price: d("0.99"), size: d("200")}
	e := NewEngine(&fakeAMM{spot: d("1")}, book, rec, DefaultConfig())

	order := marketBuy("100")
	res := e.Route(context.Background(), order)
	assert.Equal(t, domain.StopRecordFailed, res.Stats.StopReason)
	assert.Contains(t, res.Stats.LastError, "disk full")
	assert.Contains(t, res.Stats.LastError, ErrFillUnrecorded.Error())
	assert.Equal(t, 1, res.Stats.UnrecordedFills)

	// the executed chunk is still reported to the caller
	require.Len(t, res.Fills, 1)
	assert.Equal(t, domain.VenueOrderBook, res.Fills[0].Venue)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assertConsistent(t, order, res)
}

func TestRecorderFailureMidOrderEndsPartial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunkSize = d("2")
	var calls int
	rec := recorderFunc(func(context.Context, *domain.Order, *domain.Fill) error {
		calls++
		if calls == 2 {
			return errors.New("bucket closed")
		}
		return nil
	})
	amm := &fakeAMM{spot: d("1")}
	e := NewEngine(amm, &fakeBook{}, rec, cfg)

	order := marketBuy("10")
	res := e.Route(context.Background(), order)
	assert.Equal(t, domain.StopRecordFailed, res.Stats.StopReason)
	assert.Len(t, res.Fills, 2)
	assert.Len(t, amm.swaps, 2, "no chunk runs after the ledger refused one")
	assert.Equal(t, domain.OrderStatusPartiallyFilled, res.Status)
	assertConsistent(t, order, res)
}

func TestLimitOrders(t *testing.T) {
	t.Run("no venue satisfies the limit", func(t *testing.T) {
		amm := &fakeAMM{spot: d("1.1")}
		book := &fakeBook{price: d("1.2"), size: d("10")}
		e := NewEngine(amm, book, nil, DefaultConfig())
		res := e.Route(context.Background(), limitOrder(domain.SideBuy, "5", "1"))
		assert.Equal(t, domain.StopLimitReached, res.Stats.StopReason)
		assert.Empty(t, res.Fills)
	})

	t.Run("amm bound is the tighter limit", func(t *testing.T) {
		amm := &fakeAMM{spot: d("1"), reach: d("2")}
		book := &fakeBook{price: d("1.2"), size: d("10")}
		e := NewEngine(amm, book, nil, DefaultConfig())
		res := e.Route(context.Background(), limitOrder(domain.SideBuy, "5", "1.05"))
		require.NotEmpty(t, amm.bounds)
		assert.True(t, amm.bounds[0].Equal(d("1.05")))
		assert.NotEmpty(t, res.Fills)
	})

	t.Run("empty book swaps until the limit", func(t *testing.T) {
		amm := &fakeAMM{spot: d("1")}
		e := NewEngine(amm, &fakeBook{}, nil, DefaultConfig())
		res := e.Route(context.Background(), limitOrder(domain.SideSell, "5", "0.9"))
		require.Len(t, amm.bounds, 1)
		assert.True(t, amm.bounds[0].Equal(d("0.9")))
		assert.Equal(t, domain.StopFilled, res.Stats.StopReason)
	})

	t.Run("book order carries its own price as reference", func(t *testing.T) {
		book := &fakeBook{price: d("0.95"), size: d("10")}
		e := NewEngine(&fakeAMM{spot: d("1")}, book, nil, DefaultConfig())
		res := e.Route(context.Background(), limitOrder(domain.SideBuy, "5", "0.99"))
		require.Len(t, book.refs, 1)
		assert.True(t, book.refs[0].Equal(d("0.95")))
		assert.Equal(t, domain.StopFilled, res.Stats.StopReason)
	})
}

func TestWithinEpsilon(t *testing.T) {
	eps := d("0.0001")
	assert.True(t, withinEpsilon(d("1"), d("1"), eps))
	assert.True(t, withinEpsilon(d("1.0001"), d("1"), eps))
	assert.False(t, withinEpsilon(d("1.00011"), d("1"), eps))
	assert.True(t, withinEpsilon(d("2000.1"), d("2000"), eps))
	assert.False(t, withinEpsilon(d("1"), decimal.Zero, eps))
}
