// Package ledger records executed chunks durably and hands order-book trades
// to settlement.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/hybrid-router/internal/adapters/persistence"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/metrics"
)

var ErrFillNotFound = errors.New("fill not found")

// FillCache is the fast read path in front of the store.
type FillCache interface {
	Put(ctx context.Context, rec *domain.FillRecord) error
	Get(ctx context.Context, id string) (*domain.FillRecord, bool, error)
	Invalidate(ctx context.Context, id string) error
}

// SettlementQueue accepts trades for settlement. Quarantined trades go to the
// failed list without being attempted; Restore reloads failed entries after a
// restart.
type SettlementQueue interface {
	Enqueue(trades ...domain.PendingTrade) int
	Quarantine(cause error, trades ...domain.PendingTrade) int
	Restore(failed ...domain.FailedSettlement) int
}

type Ledger struct {
	store  *persistence.FillStore
	cache  FillCache
	queue  SettlementQueue
	tokens *domain.TokenRegistry
}

func NewLedger(store *persistence.FillStore, cache FillCache, queue SettlementQueue, tokens *domain.TokenRegistry) *Ledger {
	return &Ledger{store: store, cache: cache, queue: queue, tokens: tokens}
}

// Record persists fill under its trade key and, for order-book fills, enqueues
// one pending trade per counterparty. Writing the same key twice is a no-op.
//
// When the store refuses an order-book fill its trades are quarantined on the
// settlement failed list, where operators can see and requeue them.
func (l *Ledger) Record(ctx context.Context, order *domain.Order, fill *domain.Fill) error {
	inserted, err := l.store.SaveFill(fill)
	if err != nil {
		err = fmt.Errorf("store fill %s: %w", fill.ID, err)
		if fill.Venue == domain.VenueOrderBook {
			l.quarantine(order.Account, fill, err)
		}
		return err
	}
	if !inserted {
		metrics.DuplicateFills.Inc()
		log.Debug().Str("fill_id", fill.ID).Msg("[Ledger] duplicate fill ignored")
		return nil
	}
	metrics.FillsRecorded.WithLabelValues(string(fill.Venue)).Inc()

	if err := l.cache.Put(ctx, &domain.FillRecord{Fill: *fill}); err != nil {
		log.Warn().Err(err).Str("fill_id", fill.ID).Msg("[Ledger] failed to cache fill")
	}

	if fill.Venue != domain.VenueOrderBook {
		return nil
	}
	trades, err := l.pendingTrades(order.Account, fill)
	if err != nil {
		return fmt.Errorf("derive settlement for fill %s: %w", fill.ID, err)
	}
	added := l.queue.Enqueue(trades...)
	log.Debug().
		Str("fill_id", fill.ID).
		Int("trades", len(trades)).
		Int("enqueued", added).
		Msg("[Ledger] order book fill handed to settlement")
	return nil
}

func (l *Ledger) quarantine(account string, fill *domain.Fill, cause error) {
	trades, err := l.pendingTrades(account, fill)
	if err != nil {
		log.Error().Err(err).Str("fill_id", fill.ID).Msg("[Ledger] unrecorded fill has no derivable settlement")
		return
	}
	added := l.queue.Quarantine(cause, trades...)
	log.Error().Err(cause).
		Str("fill_id", fill.ID).
		Int("trades", added).
		Msg("[Ledger] fill not recorded, trades quarantined for operator review")
}

func (l *Ledger) pendingTrades(account string, fill *domain.Fill) ([]domain.PendingTrade, error) {
	base, quote, err := l.tokens.Resolve(fill.Pair)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("taker %q is not an address", account)
	}
	taker := common.HexToAddress(account)
	now := time.Now().UTC()

	out := make([]domain.PendingTrade, 0, len(fill.Trades))
	for _, t := range fill.Trades {
		if !common.IsHexAddress(t.Maker) {
			return nil, fmt.Errorf("maker %q of trade %s is not an address", t.Maker, t.ID)
		}
		maker := common.HexToAddress(t.Maker)
		buyer, seller := taker, maker
		if fill.Side == domain.SideSell {
			buyer, seller = maker, taker
		}
		out = append(out, domain.PendingTrade{
			TradeID:    t.ID,
			FillID:     fill.ID,
			OrderID:    fill.OrderID,
			Buyer:      buyer,
			Seller:     seller,
			BuyToken:   base.Address,
			SellToken:  quote.Address,
			BuyAmount:  base.ToUnits(t.Amount),
			SellAmount: quote.ToUnits(t.Amount.Mul(t.Price)),
			EnqueuedAt: now,
		})
	}
	return out, nil
}

// Recover rebuilds settlement state after a restart. Failed entries go back on
// the failed list and every other order-book trade without a settlement record
// is queued again.
func (l *Ledger) Recover(_ context.Context) (queued, failed int, err error) {
	kept, err := l.store.LoadFailed()
	if err != nil {
		return 0, 0, err
	}
	unsettled, err := l.store.UnsettledBookFills()
	if err != nil {
		return 0, 0, err
	}

	isFailed := make(map[string]struct{}, len(kept))
	restore := make([]domain.FailedSettlement, 0, len(kept))
	var stale []string
	for _, f := range kept {
		if l.store.TradeSettled(f.Trade.FillID, f.Trade.TradeID) {
			stale = append(stale, f.Trade.TradeID)
			continue
		}
		isFailed[f.Trade.TradeID] = struct{}{}
		restore = append(restore, f)
	}
	failed = l.queue.Restore(restore...)

	for i := range unsettled {
		fill := &unsettled[i].Fill
		trades, err := l.pendingTrades(fill.Account, fill)
		if err != nil {
			log.Error().Err(err).Str("fill_id", fill.ID).Msg("[Ledger] cannot derive settlement for stored fill, skipping")
			continue
		}
		pending := trades[:0]
		for _, t := range trades {
			if _, ok := isFailed[t.TradeID]; ok || l.store.TradeSettled(fill.ID, t.TradeID) {
				continue
			}
			pending = append(pending, t)
		}
		queued += l.queue.Enqueue(pending...)
	}

	if err := l.store.DeleteFailed(stale); err != nil {
		log.Warn().Err(err).Int("trades", len(stale)).Msg("[Ledger] failed to drop stale failed entries")
	}
	log.Info().Int("queued", queued).Int("failed", failed).Msg("[Ledger] settlement state recovered")
	return queued, failed, nil
}

// RememberFailed keeps failed settlements across restarts.
func (l *Ledger) RememberFailed(failed []domain.FailedSettlement) {
	if err := l.store.SaveFailed(failed); err != nil {
		log.Error().Err(err).Int("trades", len(failed)).Msg("[Ledger] failed to persist failed settlements")
	}
}

// MarkSettled stores txRef against every trade of a confirmed settlement.
func (l *Ledger) MarkSettled(ctx context.Context, trades []domain.PendingTrade, txRef string) {
	now := time.Now().UTC()
	records := make([]domain.SettlementRecord, 0, len(trades))
	tradeIDs := make([]string, 0, len(trades))
	fills := make(map[string]struct{})
	for _, t := range trades {
		tradeIDs = append(tradeIDs, t.TradeID)
		records = append(records, domain.SettlementRecord{
			TradeID:   t.TradeID,
			FillID:    t.FillID,
			TxRef:     txRef,
			SettledAt: now,
		})
		fills[t.FillID] = struct{}{}
	}
	if err := l.store.SaveSettlements(records); err != nil {
		log.Error().Err(err).Str("tx", txRef).Int("trades", len(trades)).Msg("[Ledger] failed to store settlement references")
		return
	}
	if err := l.store.DeleteFailed(tradeIDs); err != nil {
		log.Warn().Err(err).Str("tx", txRef).Msg("[Ledger] failed to clear settled trades from the failed list")
	}
	for id := range fills {
		if err := l.cache.Invalidate(ctx, id); err != nil {
			log.Warn().Err(err).Str("fill_id", id).Msg("[Ledger] failed to invalidate cached fill")
		}
	}
}

// Fill reads a fill with its settlement records, cache first.
func (l *Ledger) Fill(ctx context.Context, id string) (*domain.FillRecord, error) {
	if rec, ok, err := l.cache.Get(ctx, id); err == nil && ok {
		metrics.FillCacheHits.Inc()
		return rec, nil
	} else if err != nil {
		log.Warn().Err(err).Str("fill_id", id).Msg("[Ledger] cache read failed, falling back to store")
	}
	metrics.FillCacheMisses.Inc()

	rec, err := l.store.GetFill(id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrFillNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := l.cache.Put(ctx, rec); err != nil {
		log.Warn().Err(err).Str("fill_id", id).Msg("[Ledger] failed to cache fill")
	}
	return rec, nil
}

func (l *Ledger) FillsByOrder(_ context.Context, orderID string) ([]domain.Fill, error) {
	return l.store.FillsByOrder(orderID)
}
