package amm

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

// Observation is a point on the cumulative price curve.
type Observation struct {
	PriceCumulative decimal.Decimal
	Timestamp       time.Time
}

// Pool is an in-process constant-product pool. It keeps a time-weighted price
// accumulator that advances on every reserve change.
type Pool struct {
	mu    sync.Mutex
	pair  domain.Pair
	state reserves

	priceCumulative decimal.Decimal
	lastUpdate      time.Time
	swapCount       uint64

	now func() time.Time
}

func NewPool(pair domain.Pair, baseDecimals, quoteDecimals int32, reserveBase, reserveQuote decimal.Decimal, feeBps uint64) (*Pool, error) {
	curve, err := NewCurve(feeBps)
	if err != nil {
		return nil, err
	}
	base, err := toUnits(reserveBase, baseDecimals)
	if err != nil {
		return nil, err
	}
	quote, err := toUnits(reserveQuote, quoteDecimals)
	if err != nil {
		return nil, err
	}
	if base.IsZero() || quote.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	p := &Pool{
		pair: pair,
		state: reserves{
			base:          base,
			quote:         quote,
			baseDecimals:  baseDecimals,
			quoteDecimals: quoteDecimals,
			curve:         curve,
		},
		priceCumulative: decimal.Zero,
		now:             time.Now,
	}
	p.lastUpdate = p.now()
	return p, nil
}

func (p *Pool) Pair() domain.Pair {
	return p.pair
}

func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
	p.lastUpdate = now()
}

func (p *Pool) SpotPrice(_ context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.spot(), nil
}

func (p *Pool) Reserves() (decimal.Decimal, decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fromUnits(p.state.base, p.state.baseDecimals), fromUnits(p.state.quote, p.state.quoteDecimals)
}

func (p *Pool) Quote(_ context.Context, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	units, err := toUnits(amount, p.state.baseDecimals)
	if err != nil {
		return nil, err
	}
	res, _, err := p.state.simulate(side, units)
	return res, err
}

func (p *Pool) BaseToReachPrice(_ context.Context, target decimal.Decimal, side domain.Side) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	units, err := p.state.baseToReach(target, side)
	if err != nil {
		return decimal.Zero, err
	}
	return fromUnits(units, p.state.baseDecimals), nil
}

func (p *Pool) Swap(_ context.Context, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	units, err := toUnits(amount, p.state.baseDecimals)
	if err != nil {
		return nil, err
	}
	return p.execute(side, units)
}

func (p *Pool) SwapUntilPrice(_ context.Context, side domain.Side, amount, bound decimal.Decimal) (*domain.SwapResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	units, err := toUnits(amount, p.state.baseDecimals)
	if err != nil {
		return nil, err
	}
	clipped, err := p.state.clipToBound(side, units, bound)
	if err != nil {
		return nil, err
	}
	if clipped.IsZero() {
		return &domain.SwapResult{SpotBefore: p.state.spot(), SpotAfter: p.state.spot()}, nil
	}
	return p.execute(side, clipped)
}

// AddLiquidity deposits both legs at any ratio; used to seed local venues.
func (p *Pool) AddLiquidity(base, quote decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := toUnits(base, p.state.baseDecimals)
	if err != nil {
		return err
	}
	q, err := toUnits(quote, p.state.quoteDecimals)
	if err != nil {
		return err
	}
	p.accumulate()
	next := p.state.clone()
	next.base.Add(next.base, b)
	next.quote.Add(next.quote, q)
	p.state = next
	return nil
}

// Observe returns the accumulator value as of now.
func (p *Pool) Observe() Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observe()
}

// TWAPSince returns the time-weighted price between since and now.
func (p *Pool) TWAPSince(since Observation) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.observe()
	window := current.Timestamp.Sub(since.Timestamp).Seconds()
	if window <= 0 {
		return p.state.spot()
	}
	return current.PriceCumulative.Sub(since.PriceCumulative).Div(decimal.NewFromFloat(window))
}

func (p *Pool) observe() Observation {
	now := p.now()
	elapsed := decimal.NewFromFloat(now.Sub(p.lastUpdate).Seconds())
	return Observation{
		PriceCumulative: p.priceCumulative.Add(p.state.spot().Mul(elapsed)),
		Timestamp:       now,
	}
}

func (p *Pool) SwapCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swapCount
}

// execute must be called with mu held.
func (p *Pool) execute(side domain.Side, units *uint256.Int) (*domain.SwapResult, error) {
	res, after, err := p.state.simulate(side, units)
	if err != nil {
		return nil, err
	}
	p.accumulate()
	p.state = after
	p.swapCount++

	log.Debug().
		Str("pair", p.pair.String()).
		Str("side", string(side)).
		Str("base", res.ExecutedBase.String()).
		Str("price", res.EffectivePrice.String()).
		Str("spot_after", res.SpotAfter.String()).
		Msg("[AMMPool] swap executed")
	return res, nil
}

// accumulate must be called with mu held, before reserves change.
func (p *Pool) accumulate() {
	now := p.now()
	elapsed := now.Sub(p.lastUpdate).Seconds()
	if elapsed > 0 {
		p.priceCumulative = p.priceCumulative.Add(p.state.spot().Mul(decimal.NewFromFloat(elapsed)))
	}
	p.lastUpdate = now
}
