package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type StopReason string

const (
	StopFilled        StopReason = "filled"
	StopDust          StopReason = "dust"
	StopMaxIterations StopReason = "max_iterations"
	StopCancelled     StopReason = "cancelled"
	StopVenueError    StopReason = "venue_error"
	StopZeroLiquidity StopReason = "zero_liquidity"
	StopNoProgress    StopReason = "no_progress"
	StopLimitReached  StopReason = "limit_reached"
	StopRecordFailed  StopReason = "record_failed"
)

// RouteStep is one entry of the per-chunk routing trace.
type RouteStep struct {
	ChunkIndex  int                 `json:"chunkIndex"`
	Venue       Venue               `json:"venue"`
	Scenario    string              `json:"scenario"`
	Amount      decimal.Decimal     `json:"amount"`
	Price       decimal.Decimal     `json:"price"`
	PriceImpact decimal.NullDecimal `json:"priceImpact"`
}

type ExecutionStats struct {
	Chunks          int           `json:"chunks"`
	Iterations      int           `json:"iterations"`
	AMMChunks       int           `json:"ammChunks"`
	BookChunks      int           `json:"bookChunks"`
	StopReason      StopReason    `json:"stopReason"`
	LastError       string        `json:"lastError,omitempty"`
	UnrecordedFills int           `json:"unrecordedFills,omitempty"`
	Duration        time.Duration `json:"duration"`
}

type RoutingResult struct {
	OrderID      string          `json:"orderId"`
	Status       OrderStatus     `json:"status"`
	Fills        []Fill          `json:"fills"`
	TotalFilled  decimal.Decimal `json:"totalFilled"`
	Remaining    decimal.Decimal `json:"remaining"`
	AveragePrice decimal.Decimal `json:"averagePrice"`
	Route        []RouteStep     `json:"route"`
	Stats        ExecutionStats  `json:"stats"`
}

// UnderFilled reports whether the order ended with size left over.
func (r *RoutingResult) UnderFilled() bool {
	return r.Remaining.IsPositive()
}

// OptimalRoute is the dry-run advice returned without executing anything.
type OptimalRoute struct {
	Pair             Pair                `json:"pair"`
	Side             Side                `json:"side"`
	Amount           decimal.Decimal     `json:"amount"`
	RecommendedVenue Venue               `json:"recommendedVenue"`
	AMMPrice         decimal.Decimal     `json:"ammPrice"`
	BookPrice        decimal.NullDecimal `json:"bookPrice"`
	PriceImpact      decimal.Decimal     `json:"priceImpact"`
	EstimatedChunks  int                 `json:"estimatedChunks"`
}
