package amm

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

// Backend is one pair's pool, local or on-chain. Amounts are base-asset quantities.
type Backend interface {
	Pair() domain.Pair
	SpotPrice(ctx context.Context) (decimal.Decimal, error)
	Quote(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error)
	BaseToReachPrice(ctx context.Context, target decimal.Decimal, side domain.Side) (decimal.Decimal, error)
	Swap(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error)
	SwapUntilPrice(ctx context.Context, side domain.Side, amount, bound decimal.Decimal) (*domain.SwapResult, error)
}

var (
	_ Backend = (*Pool)(nil)
	_ Backend = (*EVMPool)(nil)
)

// Venue routes pair-scoped calls to the registered pool for that pair.
type Venue struct {
	mu    sync.RWMutex
	pools map[string]Backend
}

func NewVenue(pools ...Backend) *Venue {
	v := &Venue{pools: make(map[string]Backend, len(pools))}
	for _, p := range pools {
		v.Register(p)
	}
	return v
}

func (v *Venue) Register(pool Backend) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pools[pool.Pair().String()] = pool
}

func (v *Venue) Pool(pair domain.Pair) (Backend, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.pools[pair.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return p, nil
}

func (v *Venue) Pairs() []domain.Pair {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Pair, 0, len(v.pools))
	for _, p := range v.pools {
		out = append(out, p.Pair())
	}
	return out
}

func (v *Venue) SpotPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	p, err := v.Pool(pair)
	if err != nil {
		return decimal.Zero, err
	}
	return p.SpotPrice(ctx)
}

func (v *Venue) Quote(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error) {
	p, err := v.Pool(pair)
	if err != nil {
		return nil, err
	}
	return p.Quote(ctx, side, amount)
}

// AmountToReachPrice is the base amount that moves the pool's spot to target.
// It is zero when the spot is already at or past target for side.
func (v *Venue) AmountToReachPrice(ctx context.Context, pair domain.Pair, target decimal.Decimal, side domain.Side) (decimal.Decimal, error) {
	p, err := v.Pool(pair)
	if err != nil {
		return decimal.Zero, err
	}
	return p.BaseToReachPrice(ctx, target, side)
}

func (v *Venue) Swap(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error) {
	p, err := v.Pool(pair)
	if err != nil {
		return nil, err
	}
	return p.Swap(ctx, side, amount)
}

func (v *Venue) SwapUntilPrice(ctx context.Context, pair domain.Pair, side domain.Side, amount, bound decimal.Decimal) (*domain.SwapResult, error) {
	p, err := v.Pool(pair)
	if err != nil {
		return nil, err
	}
	return p.SwapUntilPrice(ctx, side, amount, bound)
}
