package router

import (
	"context"

	"github.com/shopspring/decimal"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/hybrid-router/internal/config"
	"github.com/hxuan190/hybrid-router/internal/domain"
	"github.com/hxuan190/hybrid-router/internal/services"
	"github.com/hxuan190/hybrid-router/internal/services/ledger"
	"github.com/hxuan190/hybrid-router/internal/services/venue"
)

const ROUTER_SERVICE = "router-service"

type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger
	config *config.RouterConfig

	engine *Engine
	orders *Orders
}

func (svc *Service) ID() string {
	return ROUTER_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	svc.config = c.GetConfig(config.ROUTER_CONFIG_KEY).(*config.RouterConfig)
	venueSvc := c.Instance(venue.VENUE_SERVICE).(*venue.Service)
	ledgerSvc := c.Instance(ledger.LEDGER_SERVICE).(*ledger.Service)

	recorder := progressRecorder{next: ledgerSvc.Ledger()}
	svc.engine = NewEngine(venueSvc.AMM(), venueSvc.Book(), recorder, ConfigFrom(svc.config))
	svc.orders = NewOrders(svc.engine, svc.config.ArchiveSize)
	return nil
}

func (svc *Service) Start() error {
	svc.logger.Info().
		Str("min_chunk", svc.config.MinChunkSize.String()).
		Str("max_chunk", svc.config.MaxChunkSize.String()).
		Str("max_amm_chunk", svc.config.MaxAMMChunkSize.String()).
		Str("epsilon", svc.config.PriceEpsilon.String()).
		Int("max_iterations", svc.config.MaxIterations).
		Msg("router ready")
	return nil
}

func (svc *Service) Stop() error {
	if n := svc.orders.ActiveCount(); n > 0 {
		svc.logger.Warn().Int("active", n).Msg("stopping with orders still routing")
	}
	return nil
}

func (svc *Service) SubmitOrder(ctx context.Context, req OrderRequest) (*domain.RoutingResult, error) {
	return svc.orders.Submit(ctx, req)
}

func (svc *Service) Cancel(orderID string) error {
	return svc.orders.Cancel(orderID)
}

func (svc *Service) Order(orderID string) (*OrderView, error) {
	return svc.orders.Get(orderID)
}

func (svc *Service) GetOptimalRoute(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (*domain.OptimalRoute, error) {
	return svc.engine.GetOptimalRoute(ctx, pair, side, amount)
}
