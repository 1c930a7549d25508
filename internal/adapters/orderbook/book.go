// Package orderbook provides the order book venue: an in-process price/time
// priority book and an HTTP client for a remote matching engine.
package orderbook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidOrder  = errors.New("invalid book order")
)

// Venue is what the router needs from a book, local or remote.
type Venue interface {
	TopOfBook(ctx context.Context, pair domain.Pair, side domain.Side) (decimal.Decimal, bool, error)
	Depth(ctx context.Context, pair domain.Pair, levels int) (*domain.BookDepth, error)
	SubmitMarketOrder(ctx context.Context, pair domain.Pair, side domain.Side, amount, referencePrice decimal.Decimal, taker string) ([]domain.BookTrade, error)
}

var (
	_ Venue = (*Book)(nil)
	_ Venue = (*Client)(nil)
)

// LimitOrder is a resting order request.
type LimitOrder struct {
	Account string          `json:"account"`
	Pair    domain.Pair     `json:"pair"`
	Side    domain.Side     `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Amount  decimal.Decimal `json:"amount"`
}

type restingOrder struct {
	id        string
	account   string
	side      domain.Side
	price     decimal.Decimal
	remaining decimal.Decimal
	placedAt  time.Time
}

type level struct {
	price  decimal.Decimal
	orders []*restingOrder
}

func (l *level) total() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range l.orders {
		sum = sum.Add(o.remaining)
	}
	return sum
}

func (l *level) remove(id string) {
	for i, o := range l.orders {
		if o.id == id {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return
		}
	}
}

// pairBook keeps both sides ordered best-first, so Min is the top of book on either side.
type pairBook struct {
	bids   *btree.BTreeG[*level]
	asks   *btree.BTreeG[*level]
	orders map[string]*restingOrder
}

func newPairBook() *pairBook {
	return &pairBook{
		bids:   btree.NewBTreeG(func(a, b *level) bool { return a.price.GreaterThan(b.price) }),
		asks:   btree.NewBTreeG(func(a, b *level) bool { return a.price.LessThan(b.price) }),
		orders: make(map[string]*restingOrder),
	}
}

func (pb *pairBook) side(s domain.Side) *btree.BTreeG[*level] {
	if s == domain.SideBuy {
		return pb.bids
	}
	return pb.asks
}

// Book is an in-process limit order book for any number of pairs.
type Book struct {
	mu    sync.Mutex
	books map[string]*pairBook
	now   func() time.Time
}

func NewBook() *Book {
	return &Book{
		books: make(map[string]*pairBook),
		now:   time.Now,
	}
}

func (b *Book) pair(p domain.Pair) *pairBook {
	pb, ok := b.books[p.String()]
	if !ok {
		pb = newPairBook()
		b.books[p.String()] = pb
	}
	return pb
}

// Place matches a limit order against the opposite side and rests the remainder.
func (b *Book) Place(_ context.Context, order LimitOrder) (string, []domain.BookTrade, error) {
	if !order.Side.Valid() || !order.Price.IsPositive() || !order.Amount.IsPositive() || order.Pair.IsZero() {
		return "", nil, ErrInvalidOrder
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pb := b.pair(order.Pair)
	id := uuid.NewString()
	trades, left := b.match(pb, order.Side, order.Amount, order.Price, order.Account)

	if left.IsPositive() {
		ro := &restingOrder{
			id:        id,
			account:   order.Account,
			side:      order.Side,
			price:     order.Price,
			remaining: left,
			placedAt:  b.now(),
		}
		tree := pb.side(order.Side)
		lvl, ok := tree.Get(&level{price: order.Price})
		if !ok {
			lvl = &level{price: order.Price}
			tree.Set(lvl)
		}
		lvl.orders = append(lvl.orders, ro)
		pb.orders[id] = ro
	}
	return id, trades, nil
}

func (b *Book) Cancel(_ context.Context, pair domain.Pair, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pb, ok := b.books[pair.String()]
	if !ok {
		return ErrOrderNotFound
	}
	ro, ok := pb.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	tree := pb.side(ro.side)
	if lvl, ok := tree.Get(&level{price: ro.price}); ok {
		lvl.remove(orderID)
		if len(lvl.orders) == 0 {
			tree.Delete(lvl)
		}
	}
	delete(pb.orders, orderID)
	return nil
}

// TopOfBook returns the best price a taker on side can trade against.
func (b *Book) TopOfBook(_ context.Context, pair domain.Pair, side domain.Side) (decimal.Decimal, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pb, ok := b.books[pair.String()]
	if !ok {
		return decimal.Zero, false, nil
	}
	lvl, ok := pb.side(side.Opposite()).Min()
	if !ok {
		return decimal.Zero, false, nil
	}
	return lvl.price, true, nil
}

func (b *Book) Depth(_ context.Context, pair domain.Pair, levels int) (*domain.BookDepth, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	depth := &domain.BookDepth{Pair: pair, Bids: []domain.PriceLevel{}, Asks: []domain.PriceLevel{}}
	pb, ok := b.books[pair.String()]
	if !ok {
		return depth, nil
	}
	depth.Bids = snapshot(pb.bids, levels)
	depth.Asks = snapshot(pb.asks, levels)
	return depth, nil
}

func snapshot(tree *btree.BTreeG[*level], levels int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, levels)
	tree.Scan(func(lvl *level) bool {
		if levels > 0 && len(out) >= levels {
			return false
		}
		out = append(out, domain.PriceLevel{Price: lvl.price, Amount: lvl.total()})
		return true
	})
	return out
}

// SubmitMarketOrder takes liquidity for side up to amount, never at a price worse
// than referencePrice. A zero reference price leaves the order unbounded. Any
// unfilled remainder is dropped.
func (b *Book) SubmitMarketOrder(_ context.Context, pair domain.Pair, side domain.Side, amount, referencePrice decimal.Decimal, taker string) ([]domain.BookTrade, error) {
	if !side.Valid() || !amount.IsPositive() {
		return nil, ErrInvalidOrder
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pb, ok := b.books[pair.String()]
	if !ok {
		return nil, nil
	}
	trades, left := b.match(pb, side, amount, referencePrice, taker)

	log.Debug().
		Str("pair", pair.String()).
		Str("side", string(side)).
		Str("requested", amount.String()).
		Str("unfilled", left.String()).
		Int("trades", len(trades)).
		Msg("[OrderBook] market order matched")
	return trades, nil
}

// match must be called with mu held.
func (b *Book) match(pb *pairBook, side domain.Side, amount, limit decimal.Decimal, taker string) ([]domain.BookTrade, decimal.Decimal) {
	opposite := pb.side(side.Opposite())
	left := amount
	var trades []domain.BookTrade
	var emptied []*level
	now := b.now()

	opposite.Scan(func(lvl *level) bool {
		if limit.IsPositive() {
			if side == domain.SideBuy && lvl.price.GreaterThan(limit) {
				return false
			}
			if side == domain.SideSell && lvl.price.LessThan(limit) {
				return false
			}
		}

		kept := lvl.orders[:0]
		for _, maker := range lvl.orders {
			if !left.IsPositive() || maker.account == taker {
				kept = append(kept, maker)
				continue
			}
			qty := decimal.Min(left, maker.remaining)
			maker.remaining = maker.remaining.Sub(qty)
			left = left.Sub(qty)
			trades = append(trades, domain.BookTrade{
				ID:           uuid.NewString(),
				MakerOrderID: maker.id,
				Maker:        maker.account,
				Taker:        taker,
				TakerSide:    side,
				Price:        lvl.price,
				Amount:       qty,
				ExecutedAt:   now,
			})
			if maker.remaining.IsPositive() {
				kept = append(kept, maker)
			} else {
				delete(pb.orders, maker.id)
			}
		}
		lvl.orders = kept
		if len(lvl.orders) == 0 {
			emptied = append(emptied, lvl)
		}
		return left.IsPositive()
	})

	for _, lvl := range emptied {
		opposite.Delete(lvl)
	}
	return trades, left
}
