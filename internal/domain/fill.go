package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Venue string

const (
	VenueAMM       Venue = "amm"
	VenueOrderBook Venue = "orderbook"
	VenueHybrid    Venue = "hybrid"
)

// Fill is one executed chunk. Immutable once recorded.
type Fill struct {
	ID          string              `json:"id"`
	OrderID     string              `json:"orderId"`
	Account     string              `json:"account"`
	Pair        Pair                `json:"pair"`
	Side        Side                `json:"side"`
	Venue       Venue               `json:"venue"`
	Price       decimal.Decimal     `json:"price"`
	Amount      decimal.Decimal     `json:"amount"`
	PriceImpact decimal.NullDecimal `json:"priceImpact"`
	ChunkIndex  int                 `json:"chunkIndex"`
	TxRef       string              `json:"txRef,omitempty"`
	Trades      []BookTrade         `json:"trades,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

func (f *Fill) Notional() decimal.Decimal {
	return f.Price.Mul(f.Amount)
}

// SettlementRecord links a settled book trade to the on-chain transaction.
type SettlementRecord struct {
	TradeID   string    `json:"tradeId"`
	FillID    string    `json:"fillId"`
	TxRef     string    `json:"txRef"`
	SettledAt time.Time `json:"settledAt"`
}

// FillRecord is the ledger view of a fill plus the settlements attached to it.
type FillRecord struct {
	Fill        Fill               `json:"fill"`
	Settlements []SettlementRecord `json:"settlements,omitempty"`
}

func (r *FillRecord) Settled() bool {
	if r.Fill.Venue != VenueOrderBook {
		return true
	}
	return len(r.Settlements) >= len(r.Fill.Trades)
}

// WeightedAveragePrice returns sum(price*amount)/sum(amount), zero for no fills.
func WeightedAveragePrice(fills []Fill) decimal.Decimal {
	notional := decimal.Zero
	total := decimal.Zero
	for i := range fills {
		notional = notional.Add(fills[i].Notional())
		total = total.Add(fills[i].Amount)
	}
	if total.IsZero() {
		return decimal.Zero
	}
	return notional.Div(total)
}
