package ledger

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/hybrid-router/internal/adapters/persistence"
	"github.com/hxuan190/hybrid-router/internal/config"
	"github.com/hxuan190/hybrid-router/internal/services"
	"github.com/hxuan190/hybrid-router/internal/services/settlement"
)

const LEDGER_SERVICE = "ledger-service"

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger
	config *config.LedgerConfig

	store       *persistence.FillStore
	redis       *persistence.RedisFillCache
	ledger      *Ledger
	coordinator *settlement.Coordinator
}

func (svc *Service) ID() string {
	return LEDGER_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	svc.config = c.GetConfig(config.LEDGER_CONFIG_KEY).(*config.LedgerConfig)
	venueConfig := c.GetConfig(config.VENUE_CONFIG_KEY).(*config.VenueConfig)
	settlementSvc := c.Instance(settlement.SETTLEMENT_SERVICE).(*settlement.Service)

	tokens, err := venueConfig.TokenRegistry()
	if err != nil {
		return err
	}
	svc.store, err = persistence.NewFillStore(svc.config.DBPath)
	if err != nil {
		return err
	}

	var cache FillCache
	if svc.config.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: svc.config.RedisAddr})
		svc.redis = persistence.NewRedisFillCache(client, time.Duration(svc.config.RedisTTL)*time.Second)
		cache = svc.redis
		svc.logger.Info().Str("addr", svc.config.RedisAddr).Msg("using redis fill cache")
	} else {
		cache = persistence.NewMemoryFillCache(svc.config.CacheSize)
	}

	svc.coordinator = settlementSvc.Coordinator()
	svc.ledger = NewLedger(svc.store, cache, svc.coordinator, tokens)
	svc.coordinator.OnSettled(svc.ledger.MarkSettled)
	svc.coordinator.OnFailed(svc.ledger.RememberFailed)
	return nil
}

// Start hands unsettled trades from the previous run back to settlement before
// any new order is routed.
func (svc *Service) Start() error {
	queued, failed, err := svc.ledger.Recover(context.Background())
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to recover settlement state")
		return err
	}
	svc.logger.Info().
		Int("fills", svc.store.FillCount()).
		Int("requeued", queued).
		Int("failed", failed).
		Msg("ledger ready")
	return nil
}

func (svc *Service) Stop() error {
	// an in-flight settlement still records into the store
	svc.coordinator.Stop()
	if svc.redis != nil {
		if err := svc.redis.Close(); err != nil {
			svc.logger.Error().Err(err).Msg("failed to close redis")
		}
	}
	if err := svc.store.Close(); err != nil {
		svc.logger.Error().Err(err).Msg("failed to close fill store")
		return err
	}
	return nil
}

func (svc *Service) Ledger() *Ledger {
	return svc.ledger
}
