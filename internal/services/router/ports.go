package router

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

// AMMVenue is the price and execution port of the constant-product venue.
// Amounts are base quantities.
type AMMVenue interface {
	SpotPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
	Quote(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error)
	AmountToReachPrice(ctx context.Context, pair domain.Pair, target decimal.Decimal, side domain.Side) (decimal.Decimal, error)
	Swap(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error)
	SwapUntilPrice(ctx context.Context, pair domain.Pair, side domain.Side, amount, bound decimal.Decimal) (*domain.SwapResult, error)
}

// OrderBookVenue is the order book port. TopOfBook takes the taker side and
// returns the best opposing price.
type OrderBookVenue interface {
	TopOfBook(ctx context.Context, pair domain.Pair, side domain.Side) (decimal.Decimal, bool, error)
	Depth(ctx context.Context, pair domain.Pair, levels int) (*domain.BookDepth, error)
	SubmitMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, amount, referencePrice decimal.Decimal, taker string) ([]domain.BookTrade, error)
}

// FillRecorder persists an executed chunk before the next one starts.
type FillRecorder interface {
	Record(ctx context.Context, order *domain.Order, fill *domain.Fill) error
}
