// Package router splits an order into chunks across the AMM and the order book.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/config"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/metrics"
)

// Scenario names recorded on every route step.
const (
	ScenarioAMMOnly   = "amm_only"
	ScenarioBookDrain = "book_drain"
	ScenarioAMMToBook = "amm_to_book"
	ScenarioBookFirst = "book_first"
	ScenarioAMMLimit  = "amm_to_limit"
)

var (
	ErrOverfill       = errors.New("venue executed more than requested")
	ErrNoExecution    = errors.New("venue executed nothing")
	ErrFillUnrecorded = errors.New("fill executed but not recorded")
)

type Config struct {
	MinChunkSize    decimal.Decimal
	MaxIterations   int
	MaxChunkSize    decimal.Decimal
	MaxAMMChunkSize decimal.Decimal
	PriceEpsilon    decimal.Decimal
	DepthLevels     int
}

func DefaultConfig() Config {
	return Config{
		MinChunkSize:    decimal.RequireFromString("0.000001"),
		MaxIterations:   100,
		MaxChunkSize:    decimal.NewFromInt(500),
		MaxAMMChunkSize: decimal.NewFromInt(250),
		PriceEpsilon:    decimal.RequireFromString("0.0001"),
		DepthLevels:     10,
	}
}

func ConfigFrom(c *config.RouterConfig) Config {
	return Config{
		MinChunkSize:    c.MinChunkSize,
		MaxIterations:   c.MaxIterations,
		MaxChunkSize:    c.MaxChunkSize,
		MaxAMMChunkSize: c.MaxAMMChunkSize,
		PriceEpsilon:    c.PriceEpsilon,
		DepthLevels:     c.DepthLevels,
	}
}

// Engine runs the chunk loop. It holds no venue state between iterations.
type Engine struct {
	cfg      Config
	amm      AMMVenue
	book     OrderBookVenue
	recorder FillRecorder
}

// NewEngine builds an engine. recorder may be nil.
func NewEngine(amm AMMVenue, book OrderBookVenue, recorder FillRecorder, cfg Config) *Engine {
	return &Engine{cfg: cfg, amm: amm, book: book, recorder: recorder}
}

func (e *Engine) Config() Config {
	return e.cfg
}

// execution is the outcome of one venue call.
type execution struct {
	fill     *domain.Fill
	scenario string
}

type stepOutcome struct {
	exec *execution
	stop domain.StopReason
	err  error
}

func stopWith(reason domain.StopReason) stepOutcome {
	return stepOutcome{stop: reason}
}

// converged reports an AMM leg that could not move the price any closer to
// its bound.
func (o stepOutcome) converged() bool {
	return o.err == nil && (o.stop == domain.StopZeroLiquidity || o.stop == domain.StopNoProgress)
}

func venueFailure(venue domain.Venue, err error) stepOutcome {
	metrics.VenueErrors.WithLabelValues(string(venue)).Inc()
	return stepOutcome{stop: domain.StopVenueError, err: fmt.Errorf("%s: %w", venue, err)}
}

// Route fills order until it is done, a stop condition hits or ctx is
// cancelled. It always returns a result; venue and ledger failures end the
// loop and are reported in Stats.
func (e *Engine) Route(ctx context.Context, order *domain.Order) *domain.RoutingResult {
	start := time.Now()
	result := &domain.RoutingResult{
		OrderID: order.ID,
		Fills:   []domain.Fill{},
		Route:   []domain.RouteStep{},
	}
	stats := &result.Stats

	// chunks in flight finish even if the caller cancels
	venueCtx := context.WithoutCancel(ctx)

	for {
		if !order.Remaining.IsPositive() {
			stats.StopReason = domain.StopFilled
			break
		}
		if order.Remaining.LessThanOrEqual(e.cfg.MinChunkSize) {
			stats.StopReason = domain.StopDust
			break
		}
		if stats.Iterations >= e.cfg.MaxIterations {
			stats.StopReason = domain.StopMaxIterations
			log.Warn().
				Str("order_id", order.ID).
				Int("iterations", stats.Iterations).
				Str("remaining", order.Remaining.String()).
				Msg("[ChunkEngine] iteration bound reached, potential infinite loop")
			break
		}
		if ctx.Err() != nil {
			stats.StopReason = domain.StopCancelled
			break
		}
		stats.Iterations++

		out := e.step(venueCtx, order)
		if out.exec != nil {
			err := e.apply(venueCtx, order, result, out.exec)
			switch {
			case errors.Is(err, ErrFillUnrecorded):
				stats.UnrecordedFills++
				out = stepOutcome{stop: domain.StopRecordFailed, err: err}
			case err != nil:
				out = venueFailure(out.exec.fill.Venue, err)
			}
		}
		if out.stop != "" {
			stats.StopReason = out.stop
			if out.err != nil {
				stats.LastError = out.err.Error()
				log.Error().Err(out.err).Str("order_id", order.ID).Msg("[ChunkEngine] chunk failed, ending loop")
			}
			break
		}
	}

	e.finish(order, result, start)
	return result
}

func (e *Engine) step(ctx context.Context, order *domain.Order) stepOutcome {
	ammPrice, err := e.amm.SpotPrice(ctx, order.Pair)
	if err != nil {
		return venueFailure(domain.VenueAMM, err)
	}
	bookPrice, hasBook, err := e.book.TopOfBook(ctx, order.Pair, order.Side)
	if err != nil {
		return venueFailure(domain.VenueOrderBook, err)
	}

	switch {
	case !hasBook:
		if !order.Accepts(ammPrice) {
			return stopWith(domain.StopLimitReached)
		}
		return e.ammOnly(ctx, order)

	case withinEpsilon(ammPrice, bookPrice, e.cfg.PriceEpsilon):
		if order.Accepts(bookPrice) {
			return e.bookChunk(ctx, order, bookPrice, ScenarioBookDrain)
		}
		if order.Accepts(ammPrice) {
			return e.ammToBound(ctx, order, order.LimitPrice, ScenarioAMMLimit)
		}
		return stopWith(domain.StopLimitReached)

	case better(order.Side, ammPrice, bookPrice):
		if !order.Accepts(ammPrice) {
			return stopWith(domain.StopLimitReached)
		}
		bound := bookPrice
		if order.Kind == domain.OrderKindLimit && better(order.Side, order.LimitPrice, bound) {
			bound = order.LimitPrice
		}
		out := e.ammToBound(ctx, order, bound, ScenarioAMMToBook)
		if !out.converged() {
			return out
		}
		// the AMM sits on the bound up to rounding, so the next chunk belongs
		// to the book level (or the limit is spent)
		if bound.Equal(bookPrice) {
			return e.bookChunk(ctx, order, bookPrice, ScenarioBookDrain)
		}
		return stopWith(domain.StopLimitReached)

	default:
		if !order.Accepts(bookPrice) {
			return stopWith(domain.StopLimitReached)
		}
		return e.bookChunk(ctx, order, bookPrice, ScenarioBookFirst)
	}
}

func (e *Engine) ammOnly(ctx context.Context, order *domain.Order) stepOutcome {
	amount := decimal.Min(order.Remaining, e.cfg.MaxChunkSize)

	var (
		res *domain.SwapResult
		err error
	)
	if order.Kind == domain.OrderKindLimit {
		res, err = e.amm.SwapUntilPrice(ctx, order.Pair, order.Side, amount, order.LimitPrice)
	} else {
		res, err = e.amm.Swap(ctx, order.Pair, order.Side, amount)
	}
	if err != nil {
		return venueFailure(domain.VenueAMM, err)
	}
	return e.ammExecution(order, amount, res, ScenarioAMMOnly)
}

// ammToBound buys (or sells) on the AMM until its spot reaches bound.
func (e *Engine) ammToBound(ctx context.Context, order *domain.Order, bound decimal.Decimal, scenario string) stepOutcome {
	reach, err := e.amm.AmountToReachPrice(ctx, order.Pair, bound, order.Side)
	if err != nil {
		return venueFailure(domain.VenueAMM, err)
	}
	if reach.LessThanOrEqual(e.cfg.MinChunkSize) {
		return stopWith(domain.StopZeroLiquidity)
	}
	amount := decimal.Min(order.Remaining, reach, e.cfg.MaxAMMChunkSize)
	res, err := e.amm.SwapUntilPrice(ctx, order.Pair, order.Side, amount, bound)
	if err != nil {
		return venueFailure(domain.VenueAMM, err)
	}
	return e.ammExecution(order, amount, res, scenario)
}

func (e *Engine) ammExecution(order *domain.Order, requested decimal.Decimal, res *domain.SwapResult, scenario string) stepOutcome {
	if res.Empty() {
		return stopWith(domain.StopNoProgress)
	}
	if res.ExecutedBase.GreaterThan(requested) {
		return venueFailure(domain.VenueAMM, fmt.Errorf("%w: %s > %s", ErrOverfill, res.ExecutedBase, requested))
	}
	return stepOutcome{exec: &execution{
		scenario: scenario,
		fill: &domain.Fill{
			Venue:       domain.VenueAMM,
			Price:       res.EffectivePrice,
			Amount:      res.ExecutedBase,
			PriceImpact: decimal.NewNullDecimal(res.PriceImpact),
			TxRef:       res.TxRef,
		},
	}}
}

// bookChunk takes everything resting at price, up to the remaining size.
func (e *Engine) bookChunk(ctx context.Context, order *domain.Order, price decimal.Decimal, scenario string) stepOutcome {
	depth, err := e.book.Depth(ctx, order.Pair, e.cfg.DepthLevels)
	if err != nil {
		return venueFailure(domain.VenueOrderBook, err)
	}
	amount := decimal.Min(order.Remaining, depth.SizeAt(order.Side, price))
	if !amount.IsPositive() {
		return stopWith(domain.StopZeroLiquidity)
	}

	trades, err := e.book.SubmitMarketOrder(ctx, order.Pair, order.Side, amount, price, order.Account)
	if err != nil {
		return venueFailure(domain.VenueOrderBook, err)
	}
	filled, vwap := domain.TradesVWAP(trades)
	if !filled.IsPositive() {
		return stopWith(domain.StopNoProgress)
	}
	if filled.GreaterThan(amount) {
		return venueFailure(domain.VenueOrderBook, fmt.Errorf("%w: %s > %s", ErrOverfill, filled, amount))
	}
	return stepOutcome{exec: &execution{
		scenario: scenario,
		fill: &domain.Fill{
			Venue:  domain.VenueOrderBook,
			Price:  vwap,
			Amount: filled,
			Trades: trades,
		},
	}}
}

// apply books an executed chunk against the order and persists it.
func (e *Engine) apply(ctx context.Context, order *domain.Order, result *domain.RoutingResult, exec *execution) error {
	fill := exec.fill
	if err := order.ApplyFill(fill.Amount); err != nil {
		return err
	}
	fill.ID = uuid.NewString()
	fill.OrderID = order.ID
	fill.Account = order.Account
	fill.Pair = order.Pair
	fill.Side = order.Side
	fill.ChunkIndex = len(result.Fills)
	fill.Timestamp = time.Now().UTC()

	// the venue already executed, so the fill is kept even if recording fails
	var recordErr error
	if e.recorder != nil {
		if err := e.recorder.Record(ctx, order, fill); err != nil {
			log.Error().Err(err).
				Str("order_id", order.ID).
				Str("fill_id", fill.ID).
				Msg("[ChunkEngine] failed to record fill")
			recordErr = fmt.Errorf("%w: fill %s: %w", ErrFillUnrecorded, fill.ID, err)
		}
	}

	result.Fills = append(result.Fills, *fill)
	result.Route = append(result.Route, domain.RouteStep{
		ChunkIndex:  fill.ChunkIndex,
		Venue:       fill.Venue,
		Scenario:    exec.scenario,
		Amount:      fill.Amount,
		Price:       fill.Price,
		PriceImpact: fill.PriceImpact,
	})

	stats := &result.Stats
	stats.Chunks++
	if fill.Venue == domain.VenueAMM {
		stats.AMMChunks++
	} else {
		stats.BookChunks++
	}
	metrics.ChunksExecuted.WithLabelValues(string(fill.Venue), exec.scenario).Inc()

	log.Debug().
		Str("order_id", order.ID).
		Int("chunk", fill.ChunkIndex).
		Str("venue", string(fill.Venue)).
		Str("scenario", exec.scenario).
		Str("amount", fill.Amount.String()).
		Str("price", fill.Price.String()).
		Str("remaining", order.Remaining.String()).
		Msg("[ChunkEngine] chunk executed")
	return recordErr
}

func (e *Engine) finish(order *domain.Order, result *domain.RoutingResult, start time.Time) {
	stats := &result.Stats
	stats.Duration = time.Since(start)

	result.TotalFilled = order.Filled()
	result.Remaining = order.Remaining
	result.AveragePrice = domain.WeightedAveragePrice(result.Fills)

	switch {
	case stats.StopReason == domain.StopFilled || stats.StopReason == domain.StopDust || !order.Remaining.IsPositive():
		order.Status = domain.OrderStatusFilled
	case stats.StopReason == domain.StopCancelled:
		order.Status = domain.OrderStatusCancelled
	case result.TotalFilled.IsPositive():
		order.Status = domain.OrderStatusPartiallyFilled
	default:
		order.Status = domain.OrderStatusExpired
	}
	result.Status = order.Status

	metrics.OrdersRouted.WithLabelValues(string(stats.StopReason)).Inc()
	metrics.RouteIterations.Observe(float64(stats.Iterations))
	metrics.RouteDuration.Observe(stats.Duration.Seconds())

	log.Info().
		Str("order_id", order.ID).
		Str("pair", order.Pair.String()).
		Str("side", string(order.Side)).
		Str("stop_reason", string(stats.StopReason)).
		Int("chunks", stats.Chunks).
		Int("iterations", stats.Iterations).
		Str("filled", result.TotalFilled.String()).
		Str("remaining", result.Remaining.String()).
		Str("avg_price", result.AveragePrice.String()).
		Dur("took", stats.Duration).
		Msg("[ChunkEngine] order routed")
}

// withinEpsilon compares a and b relative to b.
func withinEpsilon(a, b, epsilon decimal.Decimal) bool {
	if b.IsZero() {
		return a.IsZero()
	}
	return a.Sub(b).Abs().Div(b.Abs()).LessThanOrEqual(epsilon)
}

// better reports whether price a beats b for a taker on side.
func better(side domain.Side, a, b decimal.Decimal) bool {
	if side == domain.SideBuy {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}
