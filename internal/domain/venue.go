package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SwapResult is the AMM response for a simulated or executed swap.
// Amounts are in human units; ExecutedBase is the base-asset leg.
type SwapResult struct {
	ExecutedInput  decimal.Decimal `json:"executedInput"`
	ExecutedOutput decimal.Decimal `json:"executedOutput"`
	ExecutedBase   decimal.Decimal `json:"executedBase"`
	EffectivePrice decimal.Decimal `json:"effectivePrice"`
	SpotBefore     decimal.Decimal `json:"spotBefore"`
	SpotAfter      decimal.Decimal `json:"spotAfter"`
	PriceImpact    decimal.Decimal `json:"priceImpact"`
	TxRef          string          `json:"txRef,omitempty"`
}

func (r *SwapResult) Empty() bool {
	return r == nil || !r.ExecutedBase.IsPositive()
}

type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// BookDepth lists levels best first on both sides.
type BookDepth struct {
	Pair Pair         `json:"pair"`
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// Opposing returns the levels a taker on side trades against.
func (d *BookDepth) Opposing(side Side) []PriceLevel {
	if side == SideBuy {
		return d.Asks
	}
	return d.Bids
}

// SizeAt returns the amount resting at exactly price on the side a taker hits.
func (d *BookDepth) SizeAt(side Side, price decimal.Decimal) decimal.Decimal {
	for _, lvl := range d.Opposing(side) {
		if lvl.Price.Equal(price) {
			return lvl.Amount
		}
	}
	return decimal.Zero
}

// BookTrade is one maker/taker execution returned by the order book.
type BookTrade struct {
	ID           string          `json:"id"`
	MakerOrderID string          `json:"makerOrderId"`
	Maker        string          `json:"maker"`
	Taker        string          `json:"taker"`
	TakerSide    Side            `json:"takerSide"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`
	ExecutedAt   time.Time       `json:"executedAt"`
}

// TradesVWAP returns total amount and size-weighted price of trades.
func TradesVWAP(trades []BookTrade) (decimal.Decimal, decimal.Decimal) {
	total := decimal.Zero
	notional := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.Amount)
		notional = notional.Add(t.Amount.Mul(t.Price))
	}
	if total.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	return total, notional.Div(total)
}
