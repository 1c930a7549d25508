// Package settlement commits order-book trades on-chain in single or batched
// transactions, one drain at a time.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/hybrid-router/internal/adapters/persistence"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/metrics"
)

const (
	DefaultBatchSize     = 20
	DefaultDrainInterval = 5 * time.Second

	// settledMemory bounds how many recently settled trade ids are kept to
	// reject late duplicates.
	settledMemory = 100_000
)

var (
	ErrDrainInProgress = errors.New("settlement drain already in progress")
	ErrUnknownTrade    = errors.New("trade is not in the failed list")
)

// Contract is the settlement contract surface the coordinator calls.
type Contract interface {
	SettleTrade(ctx context.Context, in domain.SettlementInstruction) (string, error)
	BatchSettleTrades(ctx context.Context, batch []domain.SettlementInstruction) (string, error)
	GetUserNonce(ctx context.Context, user common.Address) (*big.Int, error)
}

// SettledFunc is called after a confirmed settlement with the trades it covered.
type SettledFunc func(ctx context.Context, trades []domain.PendingTrade, txRef string)

// FailedFunc is called whenever trades land on the failed list.
type FailedFunc func(failed []domain.FailedSettlement)

type Config struct {
	BatchSize     int
	DrainInterval time.Duration
}

type Stats struct {
	Pending     int       `json:"pending"`
	Failed      int       `json:"failed"`
	Drains      uint64    `json:"drains"`
	Settled     uint64    `json:"settled"`
	Batches     uint64    `json:"batches"`
	LastTxRef   string    `json:"lastTxRef,omitempty"`
	LastDrainAt time.Time `json:"lastDrainAt,omitempty"`
	Draining    bool      `json:"draining"`
}

// DrainResult describes one drain cycle.
type DrainResult struct {
	Trades []domain.PendingTrade
	TxRef  string
}

type Coordinator struct {
	cfg      Config
	contract Contract

	mu        sync.Mutex
	known     map[string]struct{} // queued, in flight or failed
	settled   *persistence.BoundedLRUCache[string, struct{}]
	queue     []domain.PendingTrade
	failed    map[string]domain.FailedSettlement
	onSettled []SettledFunc
	onFailed  []FailedFunc
	lastTxRef string
	lastDrain time.Time

	draining     atomic.Bool
	drains       atomic.Uint64
	settledCount atomic.Uint64
	batches      atomic.Uint64

	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoordinator(contract Contract, cfg Config) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = DefaultDrainInterval
	}
	return &Coordinator{
		cfg:      cfg,
		contract: contract,
		known:    make(map[string]struct{}),
		settled:  persistence.NewBoundedLRUCache[string, struct{}](settledMemory),
		failed:   make(map[string]domain.FailedSettlement),
		kick:     make(chan struct{}, 1),
	}
}

// OnSettled registers a callback for confirmed settlements. Register before Start.
func (c *Coordinator) OnSettled(fn SettledFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSettled = append(c.onSettled, fn)
}

// OnFailed registers a callback for trades moved to the failed list. Register before Start.
func (c *Coordinator) OnFailed(fn FailedFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFailed = append(c.onFailed, fn)
}

// seen must be called with mu held.
func (c *Coordinator) seen(tradeID string) bool {
	if _, ok := c.known[tradeID]; ok {
		return true
	}
	_, ok := c.settled.Get(tradeID)
	return ok
}

// Enqueue adds trades and returns how many were new. Trade ids already queued,
// failed or recently settled are ignored.
func (c *Coordinator) Enqueue(trades ...domain.PendingTrade) int {
	c.mu.Lock()
	added := 0
	for _, t := range trades {
		if c.seen(t.TradeID) {
			continue
		}
		if t.EnqueuedAt.IsZero() {
			t.EnqueuedAt = time.Now().UTC()
		}
		c.known[t.TradeID] = struct{}{}
		c.queue = append(c.queue, t)
		added++
	}
	depth := len(c.queue)
	c.mu.Unlock()

	metrics.SettlementQueueDepth.Set(float64(depth))
	if added > 0 && !c.draining.Load() {
		c.trigger()
	}
	return added
}

// Quarantine puts trades straight on the failed list without attempting them.
// Operators release them with Requeue.
func (c *Coordinator) Quarantine(cause error, trades ...domain.PendingTrade) int {
	now := time.Now().UTC()
	c.mu.Lock()
	added := make([]domain.FailedSettlement, 0, len(trades))
	for _, t := range trades {
		if c.seen(t.TradeID) {
			continue
		}
		f := domain.FailedSettlement{Trade: t, Error: cause.Error(), FailedAt: now}
		c.known[t.TradeID] = struct{}{}
		c.failed[t.TradeID] = f
		added = append(added, f)
	}
	callbacks := append([]FailedFunc(nil), c.onFailed...)
	c.mu.Unlock()

	if len(added) == 0 {
		return 0
	}
	metrics.SettlementFailures.Add(float64(len(added)))
	log.Warn().Err(cause).Int("trades", len(added)).Msg("[SettlementCoordinator] trades quarantined to failed list")
	for _, fn := range callbacks {
		fn(added)
	}
	return len(added)
}

// Restore reloads failed entries kept across a restart. No callbacks run.
func (c *Coordinator) Restore(failed ...domain.FailedSettlement) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	restored := 0
	for _, f := range failed {
		if c.seen(f.Trade.TradeID) {
			continue
		}
		c.known[f.Trade.TradeID] = struct{}{}
		c.failed[f.Trade.TradeID] = f
		restored++
	}
	return restored
}

func (c *Coordinator) trigger() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Start runs the drain loop: on every enqueue kick and every DrainInterval.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-c.kick:
			}
			if _, err := c.Drain(ctx); err != nil && !errors.Is(err, ErrDrainInProgress) {
				log.Error().Err(err).Msg("[SettlementCoordinator] drain failed")
			}
		}
	}()
	log.Info().
		Int("batch_size", c.cfg.BatchSize).
		Dur("interval", c.cfg.DrainInterval).
		Msg("[SettlementCoordinator] started")
}

// Stop ends the loop and waits for an in-flight drain to finish. A submitted
// settlement is not cut short: it completes and is recorded before Stop returns.
// Stop may be called more than once.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Drain processes at most BatchSize queued trades with one contract call.
// Only one drain runs at a time; a concurrent call gets ErrDrainInProgress.
func (c *Coordinator) Drain(ctx context.Context) (DrainResult, error) {
	if !c.draining.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainInProgress
	}
	defer c.draining.Store(false)

	batch := c.take(c.cfg.BatchSize)
	if len(batch) == 0 {
		return DrainResult{}, nil
	}
	c.drains.Add(1)
	log.Info().Int("trades", len(batch)).Msg("[SettlementCoordinator] drain started")

	instructions, err := c.assignNonces(ctx, batch)
	if err != nil {
		// Nothing was sent, so the trades go back to the head of the queue.
		c.putBack(batch)
		metrics.SettlementDrains.WithLabelValues("nonce_error").Inc()
		log.Error().Err(err).Int("trades", len(batch)).Msg("[SettlementCoordinator] nonce fetch failed")
		return DrainResult{Trades: batch}, err
	}

	// once nonces are claimed the call and its bookkeeping run to completion
	submitCtx := context.WithoutCancel(ctx)
	start := time.Now()
	var txRef string
	if len(instructions) == 1 {
		txRef, err = c.contract.SettleTrade(submitCtx, instructions[0])
	} else {
		txRef, err = c.contract.BatchSettleTrades(submitCtx, instructions)
	}
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	metrics.SettlementBatchSize.Observe(float64(len(batch)))

	if err != nil {
		c.markFailed(batch, err)
		metrics.SettlementDrains.WithLabelValues("failed").Inc()
		log.Error().Err(err).Int("trades", len(batch)).Msg("[SettlementCoordinator] settlement failed, trades moved to failed list")
		return DrainResult{Trades: batch}, fmt.Errorf("settle %d trades: %w", len(batch), err)
	}

	c.batches.Add(1)
	c.settledCount.Add(uint64(len(batch)))
	c.mu.Lock()
	for _, t := range batch {
		delete(c.known, t.TradeID)
		c.settled.Set(t.TradeID, struct{}{})
	}
	c.lastTxRef = txRef
	c.lastDrain = time.Now().UTC()
	callbacks := append([]SettledFunc(nil), c.onSettled...)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(submitCtx, batch, txRef)
	}
	metrics.SettlementDrains.WithLabelValues("settled").Inc()
	log.Info().Int("trades", len(batch)).Str("tx", txRef).Msg("[SettlementCoordinator] drain finished")
	return DrainResult{Trades: batch, TxRef: txRef}, nil
}

func (c *Coordinator) take(n int) []domain.PendingTrade {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > len(c.queue) {
		n = len(c.queue)
	}
	batch := make([]domain.PendingTrade, n)
	copy(batch, c.queue[:n])
	c.queue = c.queue[n:]
	metrics.SettlementQueueDepth.Set(float64(len(c.queue)))
	return batch
}

func (c *Coordinator) putBack(batch []domain.PendingTrade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(append([]domain.PendingTrade(nil), batch...), c.queue...)
	metrics.SettlementQueueDepth.Set(float64(len(c.queue)))
}

func (c *Coordinator) markFailed(batch []domain.PendingTrade, cause error) {
	now := time.Now().UTC()
	failed := make([]domain.FailedSettlement, 0, len(batch))
	c.mu.Lock()
	for _, t := range batch {
		f := domain.FailedSettlement{Trade: t, Error: cause.Error(), FailedAt: now}
		c.failed[t.TradeID] = f
		failed = append(failed, f)
	}
	callbacks := append([]FailedFunc(nil), c.onFailed...)
	c.mu.Unlock()

	metrics.SettlementFailures.Add(float64(len(batch)))
	for _, fn := range callbacks {
		fn(failed)
	}
}

// assignNonces reads each distinct account's nonce once and hands out
// consecutive values to every trade the account takes part in.
func (c *Coordinator) assignNonces(ctx context.Context, batch []domain.PendingTrade) ([]domain.SettlementInstruction, error) {
	next := make(map[common.Address]*big.Int)
	for _, t := range batch {
		for _, account := range []common.Address{t.Buyer, t.Seller} {
			if _, ok := next[account]; ok {
				continue
			}
			n, err := c.contract.GetUserNonce(ctx, account)
			if err != nil {
				return nil, fmt.Errorf("getUserNonce %s: %w", account.Hex(), err)
			}
			next[account] = new(big.Int).Set(n)
		}
	}

	claim := func(a common.Address) *big.Int {
		n := new(big.Int).Set(next[a])
		next[a].Add(next[a], big.NewInt(1))
		return n
	}
	out := make([]domain.SettlementInstruction, len(batch))
	for i, t := range batch {
		in := domain.SettlementInstruction{Trade: t, BuyerNonce: claim(t.Buyer)}
		if t.Seller == t.Buyer {
			in.SellerNonce = new(big.Int).Set(in.BuyerNonce)
		} else {
			in.SellerNonce = claim(t.Seller)
		}
		out[i] = in
	}
	return out, nil
}

func (c *Coordinator) Pending() []domain.PendingTrade {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PendingTrade(nil), c.queue...)
}

func (c *Coordinator) FailedTrades() []domain.FailedSettlement {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.FailedSettlement, 0, len(c.failed))
	for _, f := range c.failed {
		out = append(out, f)
	}
	return out
}

// Requeue puts a failed trade back on the queue. It is an operator action.
func (c *Coordinator) Requeue(tradeID string) error {
	c.mu.Lock()
	f, ok := c.failed[tradeID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownTrade
	}
	delete(c.failed, tradeID)
	c.queue = append(c.queue, f.Trade)
	depth := len(c.queue)
	c.mu.Unlock()

	metrics.SettlementQueueDepth.Set(float64(depth))
	log.Warn().Str("trade_id", tradeID).Msg("[SettlementCoordinator] failed trade requeued by operator")
	c.trigger()
	return nil
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Pending:     len(c.queue),
		Failed:      len(c.failed),
		Drains:      c.drains.Load(),
		Settled:     c.settledCount.Load(),
		Batches:     c.batches.Load(),
		LastTxRef:   c.lastTxRef,
		LastDrainAt: c.lastDrain,
		Draining:    c.draining.Load(),
	}
}
