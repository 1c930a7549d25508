package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

func buyRequest(amount string) OrderRequest {
	return OrderRequest{
		Account: taker,
		Pair:    testPair,
		Side:    domain.SideBuy,
		Amount:  d(amount),
	}
}

func TestSubmitArchivesResult(t *testing.T) {
	e := NewEngine(&fakeAMM{spot: d("1")}, &fakeBook{}, progressRecorder{}, DefaultConfig())
	orders := NewOrders(e, 16)

	res, err := orders.Submit(context.Background(), buyRequest("5"))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Zero(t, orders.ActiveCount())

	view, err := orders.Get(res.OrderID)
	require.NoError(t, err)
	require.NotNil(t, view.Result)
	assert.Equal(t, domain.OrderStatusFilled, view.Order.Status)
	assert.Len(t, view.Fills, 1)

	assert.ErrorIs(t, orders.Cancel(res.OrderID), ErrOrderFinished)
	assert.ErrorIs(t, orders.Cancel("nope"), ErrOrderNotFound)
	_, err = orders.Get("nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = orders.Submit(context.Background(), OrderRequest{ID: res.OrderID, Account: taker, Pair: testPair, Side: domain.SideBuy, Amount: d("1")})
	assert.ErrorIs(t, err, ErrOrderFinished)
}

func TestSubmitRejectsInvalidOrders(t *testing.T) {
	amm := &fakeAMM{spot: d("1")}
	orders := NewOrders(NewEngine(amm, &fakeBook{}, nil, DefaultConfig()), 16)

	tests := []struct {
		name  string
		req   OrderRequest
		field string
	}{
		{name: "zero amount", req: buyRequest("0"), field: "amount"},
		{name: "bad account", req: OrderRequest{Account: "alice", Pair: testPair, Side: domain.SideBuy, Amount: d("1")}, field: "account"},
		{name: "bad side", req: OrderRequest{Account: taker, Pair: testPair, Side: "hold", Amount: d("1")}, field: "side"},
		{name: "limit without price", req: OrderRequest{Account: taker, Pair: testPair, Side: domain.SideBuy, Kind: domain.OrderKindLimit, Amount: d("1")}, field: "limitPrice"},
		{name: "same tokens", req: OrderRequest{Account: taker, Pair: domain.Pair{Base: "USDC", Quote: "USDC"}, Side: domain.SideBuy, Amount: d("1")}, field: "pair"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orders.Submit(context.Background(), tt.req)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Zero(t, amm.calls(), "invalid orders never reach a venue")
}

func TestLimitPriceImpliesLimitKind(t *testing.T) {
	amm := &fakeAMM{spot: d("1.2")}
	orders := NewOrders(NewEngine(amm, &fakeBook{}, nil, DefaultConfig()), 16)

	req := buyRequest("5")
	req.LimitPrice = d("1")
	res, err := orders.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StopLimitReached, res.Stats.StopReason)
}

func TestCancelActiveOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunkSize = d("1")

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	blocking := recorderFunc(func(context.Context, *domain.Order, *domain.Fill) error {
		select {
		case entered <- struct{}{}:
			<-release
		default:
		}
		return nil
	})
	e := NewEngine(&fakeAMM{spot: d("1")}, &fakeBook{}, progressRecorder{next: blocking}, cfg)
	orders := NewOrders(e, 16)

	req := buyRequest("5")
	req.ID = uuid.NewString()

	done := make(chan *domain.RoutingResult, 1)
	go func() {
		res, err := orders.Submit(context.Background(), req)
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("order never started")
	}

	view, err := orders.Get(req.ID)
	require.NoError(t, err)
	assert.Nil(t, view.Result)
	assert.Equal(t, domain.OrderStatusActive, view.Order.Status)
	assert.Len(t, view.Fills, 1)
	assert.True(t, view.Order.Remaining.Equal(d("4")))
	assert.Equal(t, 1, orders.ActiveCount())

	_, err = orders.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrOrderActive)

	require.NoError(t, orders.Cancel(req.ID))
	close(release)

	res := <-done
	assert.Equal(t, domain.StopCancelled, res.Stats.StopReason)
	assert.Equal(t, domain.OrderStatusCancelled, res.Status)
	assert.Len(t, res.Fills, 1)
	assert.True(t, res.Remaining.Equal(d("4")))
}

func TestSubmitReturnsOnlyWhenRoutingEnds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunkSize = d("1")
	var recorded int
	rec := recorderFunc(func(context.Context, *domain.Order, *domain.Fill) error {
		recorded++
		return nil
	})
	orders := NewOrders(NewEngine(&fakeAMM{spot: d("1")}, &fakeBook{}, progressRecorder{next: rec}, cfg), 16)

	res, err := orders.Submit(context.Background(), buyRequest("3"))
	require.NoError(t, err)
	assert.Equal(t, 3, recorded, "every chunk is recorded before Submit returns")
	assert.Len(t, res.Fills, 3)
	assert.Zero(t, orders.ActiveCount())
}

func TestConcurrentCallersRouteInParallel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunkSize = d("1")
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	blocking := recorderFunc(func(context.Context, *domain.Order, *domain.Fill) error {
		entered <- struct{}{}
		<-release
		return nil
	})
	orders := NewOrders(NewEngine(&fakeAMM{spot: d("1")}, &fakeBook{}, progressRecorder{next: blocking}, cfg), 16)

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := orders.Submit(context.Background(), buyRequest("1"))
			done <- err
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("orders did not route concurrently")
		}
	}
	assert.Equal(t, 2, orders.ActiveCount())
	close(release)
	for i := 0; i < 2; i++ {
		assert.NoError(t, <-done)
	}
	assert.Zero(t, orders.ActiveCount())
}
