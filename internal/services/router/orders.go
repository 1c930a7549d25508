package router

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/adapters/persistence"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/metrics"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderActive   = errors.New("order is already being routed")
	ErrOrderFinished = errors.New("order already finished")
)

type OrderRequest struct {
	ID         string           `json:"id,omitempty"`
	Account    string           `json:"account"`
	Pair       domain.Pair      `json:"pair"`
	Side       domain.Side      `json:"side"`
	Kind       domain.OrderKind `json:"kind"`
	Amount     decimal.Decimal  `json:"amount"`
	LimitPrice decimal.Decimal  `json:"limitPrice"`
}

// OrderView is an order as seen from outside. Result is set once routing ends.
type OrderView struct {
	Order  domain.Order          `json:"order"`
	Fills  []domain.Fill         `json:"fills"`
	Result *domain.RoutingResult `json:"result,omitempty"`
}

type activeOrder struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	order  domain.Order
	fills  []domain.Fill
}

func (a *activeOrder) view() *OrderView {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &OrderView{Order: a.order, Fills: append([]domain.Fill(nil), a.fills...)}
}

// Orders owns the lifecycle of submitted orders. Submit routes on the caller's
// goroutine, so concurrent orders need concurrent callers; Cancel and Get work
// from any goroutine while an order routes. Finished results go to a bounded
// archive.
type Orders struct {
	engine *Engine

	mu      sync.Mutex
	active  map[string]*activeOrder
	archive *persistence.BoundedLRUCache[string, *OrderView]
}

func NewOrders(engine *Engine, archiveSize int) *Orders {
	return &Orders{
		engine:  engine,
		active:  make(map[string]*activeOrder),
		archive: persistence.NewBoundedLRUCache[string, *OrderView](archiveSize),
	}
}

// Submit validates req and routes it to completion on the calling goroutine.
func (o *Orders) Submit(ctx context.Context, req OrderRequest) (*domain.RoutingResult, error) {
	kind := req.Kind
	if kind == "" {
		kind = domain.OrderKindMarket
		if req.LimitPrice.IsPositive() {
			kind = domain.OrderKindLimit
		}
	}
	order := domain.NewOrder(req.Account, req.Pair, req.Side, kind, req.Amount, req.LimitPrice)
	if req.ID != "" {
		order.ID = req.ID
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	routeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entry := &activeOrder{cancel: cancel, order: *order}
	o.mu.Lock()
	if _, busy := o.active[order.ID]; busy {
		o.mu.Unlock()
		return nil, ErrOrderActive
	}
	if _, done := o.archive.Get(order.ID); done {
		o.mu.Unlock()
		return nil, ErrOrderFinished
	}
	o.active[order.ID] = entry
	o.mu.Unlock()
	metrics.ActiveOrders.Inc()

	result := o.engine.Route(withProgress(routeCtx, entry), order)

	o.mu.Lock()
	delete(o.active, order.ID)
	o.archive.Set(order.ID, &OrderView{Order: *order, Fills: result.Fills, Result: result})
	o.mu.Unlock()
	metrics.ActiveOrders.Dec()
	return result, nil
}

// Cancel stops an active order at the top of its next iteration.
func (o *Orders) Cancel(orderID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.active[orderID]; ok {
		entry.cancel()
		return nil
	}
	if _, ok := o.archive.Get(orderID); ok {
		return ErrOrderFinished
	}
	return ErrOrderNotFound
}

func (o *Orders) Get(orderID string) (*OrderView, error) {
	o.mu.Lock()
	entry, ok := o.active[orderID]
	if !ok {
		view, archived := o.archive.Get(orderID)
		o.mu.Unlock()
		if !archived {
			return nil, ErrOrderNotFound
		}
		return view, nil
	}
	o.mu.Unlock()
	return entry.view(), nil
}

func (o *Orders) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

type progressKey struct{}

func withProgress(ctx context.Context, entry *activeOrder) context.Context {
	return context.WithValue(ctx, progressKey{}, entry)
}

// progressRecorder mirrors every recorded chunk onto the active order so that
// Get can report progress while the loop runs.
type progressRecorder struct {
	next FillRecorder
}

func (r progressRecorder) Record(ctx context.Context, order *domain.Order, fill *domain.Fill) error {
	if entry, ok := ctx.Value(progressKey{}).(*activeOrder); ok {
		entry.mu.Lock()
		entry.order = *order
		entry.fills = append(entry.fills, *fill)
		entry.mu.Unlock()
	}
	if r.next == nil {
		return nil
	}
	return r.next.Record(ctx, order, fill)
}
