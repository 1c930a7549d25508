package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

type OrderStatus string

const (
	OrderStatusActive          OrderStatus = "active"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	// OrderStatusExpired marks an order that stopped without cancellation and without any fill.
	OrderStatusExpired OrderStatus = "expired"
)

// Pair identifies a venue pair by token symbols, e.g. WETH/USDC.
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

func (p Pair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}

// ParsePair accepts "BASE/QUOTE" or "BASE-QUOTE".
func ParsePair(raw string) (Pair, error) {
	sep := "/"
	if !strings.Contains(raw, sep) {
		sep = "-"
	}
	parts := strings.Split(strings.TrimSpace(raw), sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair %q", raw)
	}
	return Pair{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, nil
}

type Order struct {
	ID         string          `json:"id"`
	Account    string          `json:"account"`
	Pair       Pair            `json:"pair"`
	Side       Side            `json:"side"`
	Kind       OrderKind       `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	LimitPrice decimal.Decimal `json:"limitPrice"`
	Remaining  decimal.Decimal `json:"remaining"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func NewOrder(account string, pair Pair, side Side, kind OrderKind, amount, limitPrice decimal.Decimal) *Order {
	return &Order{
		ID:         uuid.NewString(),
		Account:    account,
		Pair:       pair,
		Side:       side,
		Kind:       kind,
		Amount:     amount,
		LimitPrice: limitPrice,
		Remaining:  amount,
		Status:     OrderStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
}

// ValidationError is returned for malformed orders before any venue is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (o *Order) Validate() error {
	if o.ID == "" {
		return invalid("id", "is required")
	}
	if !common.IsHexAddress(o.Account) {
		return invalid("account", "must be a hex encoded address")
	}
	if o.Pair.Base == "" || o.Pair.Quote == "" {
		return invalid("pair", "must name a base and a quote token")
	}
	if o.Pair.Base == o.Pair.Quote {
		return invalid("pair", "base and quote must differ")
	}
	if !o.Side.Valid() {
		return invalid("side", "must be buy or sell")
	}
	switch o.Kind {
	case OrderKindMarket:
		if !o.LimitPrice.IsZero() {
			return invalid("limitPrice", "is not allowed on market orders")
		}
	case OrderKindLimit:
		if !o.LimitPrice.IsPositive() {
			return invalid("limitPrice", "must be positive for limit orders")
		}
	default:
		return invalid("kind", "must be market or limit")
	}
	if !o.Amount.IsPositive() {
		return invalid("amount", "must be positive")
	}
	if o.Remaining.IsNegative() || o.Remaining.GreaterThan(o.Amount) {
		return invalid("remaining", "must be between zero and amount")
	}
	return nil
}

// Accepts reports whether executing at price respects the order's limit.
func (o *Order) Accepts(price decimal.Decimal) bool {
	if o.Kind != OrderKindLimit {
		return true
	}
	if o.Side == SideBuy {
		return price.LessThanOrEqual(o.LimitPrice)
	}
	return price.GreaterThanOrEqual(o.LimitPrice)
}

// ApplyFill reduces the remaining size. It refuses to overfill.
func (o *Order) ApplyFill(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("fill amount must be positive, got %s", amount)
	}
	if amount.GreaterThan(o.Remaining) {
		return fmt.Errorf("fill amount %s exceeds remaining %s", amount, o.Remaining)
	}
	o.Remaining = o.Remaining.Sub(amount)
	if o.Remaining.IsZero() {
		o.Status = OrderStatusFilled
	}
	return nil
}

func (o *Order) Filled() decimal.Decimal {
	return o.Amount.Sub(o.Remaining)
}

func (o *Order) IsTerminal() bool {
	return o.Status != OrderStatusActive
}
