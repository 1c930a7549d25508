package router

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

// GetOptimalRoute estimates how Route would split amount without executing
// anything. Only read calls reach the venues.
func (e *Engine) GetOptimalRoute(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (*domain.OptimalRoute, error) {
	if !side.Valid() {
		return nil, &domain.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if !amount.IsPositive() {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	ammPrice, err := e.amm.SpotPrice(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("amm spot price: %w", err)
	}
	bookPrice, hasBook, err := e.book.TopOfBook(ctx, pair, side)
	if err != nil {
		return nil, fmt.Errorf("book top: %w", err)
	}

	route := &domain.OptimalRoute{
		Pair:     pair,
		Side:     side,
		Amount:   amount,
		AMMPrice: ammPrice,
	}
	if hasBook {
		route.BookPrice = decimal.NewNullDecimal(bookPrice)
	}
	if quote, err := e.amm.Quote(ctx, pair, side, amount); err == nil {
		route.PriceImpact = quote.PriceImpact
	}

	var levels []domain.PriceLevel
	if hasBook {
		depth, err := e.book.Depth(ctx, pair, e.cfg.DepthLevels)
		if err != nil {
			return nil, fmt.Errorf("book depth: %w", err)
		}
		levels = depth.Opposing(side)
	}

	plan, err := e.plan(ctx, pair, side, amount, ammPrice, levels)
	if err != nil {
		return nil, err
	}
	route.EstimatedChunks = plan.chunks
	switch {
	case plan.book.IsZero():
		route.RecommendedVenue = domain.VenueAMM
	case plan.amm.IsZero():
		route.RecommendedVenue = domain.VenueOrderBook
	default:
		route.RecommendedVenue = domain.VenueHybrid
	}
	return route, nil
}

type routePlan struct {
	amm    decimal.Decimal
	book   decimal.Decimal
	chunks int
}

// plan walks the book levels in the loop's order. The AMM side is tracked as
// the cumulative base needed from the current pool state to reach each level.
func (e *Engine) plan(ctx context.Context, pair domain.Pair, side domain.Side, amount, ammPrice decimal.Decimal, levels []domain.PriceLevel) (routePlan, error) {
	p := routePlan{amm: decimal.Zero, book: decimal.Zero}
	remaining := amount
	spot := ammPrice

	for _, lvl := range levels {
		if !remaining.GreaterThan(e.cfg.MinChunkSize) || p.chunks >= e.cfg.MaxIterations {
			return p, nil
		}
		if better(side, spot, lvl.Price) && !withinEpsilon(spot, lvl.Price, e.cfg.PriceEpsilon) {
			reach, err := e.amm.AmountToReachPrice(ctx, pair, lvl.Price, side)
			if err != nil {
				return p, fmt.Errorf("amm reach: %w", err)
			}
			take := decimal.Min(remaining, reach.Sub(p.amm))
			if take.IsPositive() {
				p.amm = p.amm.Add(take)
				p.chunks += chunksFor(take, e.cfg.MaxAMMChunkSize)
				remaining = remaining.Sub(take)
			}
			spot = lvl.Price
			if !remaining.GreaterThan(e.cfg.MinChunkSize) {
				return p, nil
			}
		}
		take := decimal.Min(remaining, lvl.Amount)
		p.book = p.book.Add(take)
		p.chunks++
		remaining = remaining.Sub(take)
	}
	if remaining.GreaterThan(e.cfg.MinChunkSize) {
		p.amm = p.amm.Add(remaining)
		p.chunks += chunksFor(remaining, e.cfg.MaxChunkSize)
	}
	if p.chunks > e.cfg.MaxIterations {
		p.chunks = e.cfg.MaxIterations
	}
	return p, nil
}

func chunksFor(amount, max decimal.Decimal) int {
	if !max.IsPositive() {
		return 1
	}
	return int(amount.Div(max).Ceil().IntPart())
}
