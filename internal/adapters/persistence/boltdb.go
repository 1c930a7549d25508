package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	boltdb "github.com/andrew-solarstorm/bolt-db"
	"github.com/boltdb/bolt"
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

const (
	FillsBucket       = "fills"
	SettlementsBucket = "settlements"
	FailedBucket      = "failed_settlements"

	DefaultDBPath = "./data/hybrid-router.db"
)

var ErrNotFound = errors.New("not found")

// FillStore is the durable, append-only fill log. Writes are keyed by the
// fill's trade key and repeated writes of the same key are no-ops.
//
// Order and settlement lookups go through in-memory indexes rebuilt from the
// buckets on open; every read after that is a point lookup.
type FillStore struct {
	db     *boltdb.BoltDatabase
	dbPath string

	mu            sync.Mutex
	known         map[string]struct{}
	byOrder       map[string][]string // order id -> fill ids
	settledTrades map[string][]string // fill id -> settled trade ids
}

func NewFillStore(dbPath string) (*FillStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db := boltdb.NewBoltDatabase(dbPath)
	if db == nil {
		return nil, fmt.Errorf("failed to open database at %s", dbPath)
	}

	s := &FillStore{
		db:            db,
		dbPath:        dbPath,
		known:         make(map[string]struct{}),
		byOrder:       make(map[string][]string),
		settledTrades: make(map[string][]string),
	}
	if err := s.rebuildIndexes(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().Str("path", dbPath).Int("fills", len(s.known)).Msg("[fillStore] opened database")
	return s, nil
}

func (s *FillStore) rebuildIndexes() error {
	err := s.db.ForEach(FillsBucket, func(k, v []byte) error {
		var f domain.Fill
		if err := sonic.Unmarshal(bytes.Clone(v), &f); err != nil {
			log.Error().Str("key", string(k)).Err(err).Msg("[fillStore] failed to unmarshal fill, skipping")
			return nil
		}
		s.indexFill(&f)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index fills: %w", err)
	}
	err = s.db.ForEach(SettlementsBucket, func(k, v []byte) error {
		var rec domain.SettlementRecord
		if err := sonic.Unmarshal(bytes.Clone(v), &rec); err != nil {
			log.Warn().Str("key", string(k)).Err(err).Msg("[fillStore] failed to unmarshal settlement, skipping")
			return nil
		}
		s.indexSettlement(rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index settlements: %w", err)
	}
	return nil
}

// indexFill and indexSettlement must be called with mu held (or before the
// store is shared).
func (s *FillStore) indexFill(f *domain.Fill) {
	s.known[f.ID] = struct{}{}
	s.byOrder[f.OrderID] = append(s.byOrder[f.OrderID], f.ID)
}

func (s *FillStore) indexSettlement(rec domain.SettlementRecord) {
	for _, id := range s.settledTrades[rec.FillID] {
		if id == rec.TradeID {
			return
		}
	}
	s.settledTrades[rec.FillID] = append(s.settledTrades[rec.FillID], rec.TradeID)
}

// get reads one key and copies the value out of the read transaction.
func (s *FillStore) get(bucket, key string) ([]byte, error) {
	var out []byte
	err := s.db.Read(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out = bytes.Clone(v)
		}
		return nil
	})
	return out, err
}

func (s *FillStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveFill appends fill and reports whether it was new.
func (s *FillStore) SaveFill(fill *domain.Fill) (bool, error) {
	if fill.ID == "" {
		return false, fmt.Errorf("fill has no trade key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.known[fill.ID]; ok {
		return false, nil
	}
	data, err := sonic.Marshal(fill)
	if err != nil {
		return false, fmt.Errorf("failed to marshal fill: %w", err)
	}
	if err := s.db.Set(FillsBucket, []byte(fill.ID), data); err != nil {
		return false, fmt.Errorf("failed to save fill %s: %w", fill.ID, err)
	}
	s.indexFill(fill)
	return true, nil
}

func (s *FillStore) HasFill(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.known[id]
	return ok
}

// SaveSettlements writes one record per settled trade in a single batch.
func (s *FillStore) SaveSettlements(records []domain.SettlementRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	for _, rec := range records {
		data, err := sonic.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal settlement %s: %w", rec.TradeID, err)
		}
		value := data
		op := &boltdb.WriteOperation{
			Bucket: []byte(SettlementsBucket),
			Key:    []byte(rec.TradeID),
			Value:  &value,
			Op:     boltdb.OpSet,
		}
		if err := batch.Add(op); err != nil {
			return fmt.Errorf("failed to add settlement %s to batch: %w", rec.TradeID, err)
		}
	}

	if err := batch.Execute(); err != nil {
		log.Error().Err(err).Int("count", len(records)).Msg("[fillStore] FAILED to execute settlement batch")
		return err
	}
	s.mu.Lock()
	for _, rec := range records {
		s.indexSettlement(rec)
	}
	s.mu.Unlock()
	return nil
}

func (s *FillStore) getFill(id string) (*domain.Fill, error) {
	raw, err := s.get(FillsBucket, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read fill %s: %w", id, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	var f domain.Fill
	if err := sonic.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fill %s: %w", id, err)
	}
	return &f, nil
}

// FillsByOrder returns the order's fills in chunk order.
func (s *FillStore) FillsByOrder(orderID string) ([]domain.Fill, error) {
	s.mu.Lock()
	ids := append([]string(nil), s.byOrder[orderID]...)
	s.mu.Unlock()

	out := make([]domain.Fill, 0, len(ids))
	for _, id := range ids {
		f, err := s.getFill(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	sortFills(out)
	return out, nil
}

func sortFills(fills []domain.Fill) {
	sort.Slice(fills, func(i, j int) bool {
		if fills[i].ChunkIndex != fills[j].ChunkIndex {
			return fills[i].ChunkIndex < fills[j].ChunkIndex
		}
		return fills[i].Timestamp.Before(fills[j].Timestamp)
	})
}

// GetFill returns the fill with its settlement records.
func (s *FillStore) GetFill(id string) (*domain.FillRecord, error) {
	if !s.HasFill(id) {
		return nil, ErrNotFound
	}
	f, err := s.getFill(id)
	if err != nil {
		return nil, err
	}
	settlements, err := s.SettlementsForFill(id)
	if err != nil {
		return nil, err
	}
	return &domain.FillRecord{Fill: *f, Settlements: settlements}, nil
}

func (s *FillStore) SettlementsForFill(fillID string) ([]domain.SettlementRecord, error) {
	s.mu.Lock()
	tradeIDs := append([]string(nil), s.settledTrades[fillID]...)
	s.mu.Unlock()

	out := make([]domain.SettlementRecord, 0, len(tradeIDs))
	for _, tradeID := range tradeIDs {
		raw, err := s.get(SettlementsBucket, tradeID)
		if err != nil {
			return nil, fmt.Errorf("failed to read settlement %s: %w", tradeID, err)
		}
		if raw == nil {
			continue
		}
		var rec domain.SettlementRecord
		if err := sonic.Unmarshal(raw, &rec); err != nil {
			log.Warn().Str("key", tradeID).Err(err).Msg("[fillStore] failed to unmarshal settlement, skipping")
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(out[j].SettledAt) })
	return out, nil
}

// TradeSettled reports whether a settlement record exists for the trade.
func (s *FillStore) TradeSettled(fillID, tradeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.settledTrades[fillID] {
		if id == tradeID {
			return true
		}
	}
	return false
}

// UnsettledBookFills returns every order-book fill that still has a trade
// without a settlement record, with the records it does have.
func (s *FillStore) UnsettledBookFills() ([]domain.FillRecord, error) {
	var pending []domain.Fill
	err := s.db.ForEach(FillsBucket, func(k, v []byte) error {
		var f domain.Fill
		if err := sonic.Unmarshal(bytes.Clone(v), &f); err != nil {
			log.Error().Str("key", string(k)).Err(err).Msg("[fillStore] failed to unmarshal fill, skipping")
			return nil
		}
		if f.Venue != domain.VenueOrderBook {
			return nil
		}
		s.mu.Lock()
		settled := len(s.settledTrades[f.ID])
		s.mu.Unlock()
		if settled < len(f.Trades) {
			pending = append(pending, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan fills: %w", err)
	}

	// settlement reads run outside the iteration's transaction
	out := make([]domain.FillRecord, 0, len(pending))
	for _, f := range pending {
		settlements, err := s.SettlementsForFill(f.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.FillRecord{Fill: f, Settlements: settlements})
	}
	return out, nil
}

// SaveFailed stores trades whose settlement failed, keyed by trade id.
func (s *FillStore) SaveFailed(failed []domain.FailedSettlement) error {
	if len(failed) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	for _, f := range failed {
		data, err := sonic.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to marshal failed settlement %s: %w", f.Trade.TradeID, err)
		}
		value := data
		if err := batch.Add(&boltdb.WriteOperation{
			Bucket: []byte(FailedBucket),
			Key:    []byte(f.Trade.TradeID),
			Value:  &value,
			Op:     boltdb.OpSet,
		}); err != nil {
			return fmt.Errorf("failed to add failed settlement %s to batch: %w", f.Trade.TradeID, err)
		}
	}
	return batch.Execute()
}

// DeleteFailed drops failed entries once their trades settle.
func (s *FillStore) DeleteFailed(tradeIDs []string) error {
	if len(tradeIDs) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	for _, id := range tradeIDs {
		if err := batch.Add(&boltdb.WriteOperation{
			Bucket: []byte(FailedBucket),
			Key:    []byte(id),
			Op:     boltdb.OpDelete,
		}); err != nil {
			return fmt.Errorf("failed to add delete of %s to batch: %w", id, err)
		}
	}
	return batch.Execute()
}

func (s *FillStore) LoadFailed() ([]domain.FailedSettlement, error) {
	out := make([]domain.FailedSettlement, 0)
	err := s.db.ForEach(FailedBucket, func(k, v []byte) error {
		var f domain.FailedSettlement
		if err := sonic.Unmarshal(bytes.Clone(v), &f); err != nil {
			log.Warn().Str("key", string(k)).Err(err).Msg("[fillStore] failed to unmarshal failed settlement, skipping")
			return nil
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list failed settlements: %w", err)
	}
	return out, nil
}

func (s *FillStore) FillCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.known)
}
