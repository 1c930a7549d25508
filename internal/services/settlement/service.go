package settlement

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/hybrid-router/internal/adapters/chain"
	"github.com/hxuan190/hybrid-router/internal/config"
	"github.com/hxuan190/hybrid-router/internal/services"
)

const SETTLEMENT_SERVICE = "settlement-service"

// Service owns the process-wide coordinator. Run exactly one per settlement
// contract deployment: its drain guard is not a distributed lock.
type Service struct {
	container.BaseDIInstance
	logger *services.ServiceLogger
	config *config.SettlementConfig

	client      *ethclient.Client
	coordinator *Coordinator
}

func (svc *Service) ID() string {
	return SETTLEMENT_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = services.NewServiceLogger(svc)
	svc.config = c.GetConfig(config.SETTLEMENT_CONFIG_KEY).(*config.SettlementConfig)

	contract, err := svc.buildContract()
	if err != nil {
		return err
	}
	svc.coordinator = NewCoordinator(contract, Config{
		BatchSize:     svc.config.BatchSize,
		DrainInterval: svc.config.DrainInterval,
	})
	return nil
}

func (svc *Service) buildContract() (Contract, error) {
	if svc.config.DryRun() {
		svc.logger.Warn().Msg("SETTLEMENT_RPC_URL not set, settling against the dry-run contract")
		return chain.NewDryRunSettlement(), nil
	}

	client, err := chain.Dial(svc.config.RPCURL)
	if err != nil {
		return nil, err
	}
	transactor, err := chain.NewTransactor(svc.config.PrivateKey, big.NewInt(svc.config.ChainID))
	if err != nil {
		client.Close()
		return nil, err
	}
	contract, err := chain.NewSettlementContract(client, common.HexToAddress(svc.config.Contract), transactor, svc.config.TxTimeout)
	if err != nil {
		client.Close()
		return nil, err
	}
	svc.client = client
	svc.logger.Info().
		Str("contract", svc.config.Contract).
		Str("signer", transactor.From().Hex()).
		Msg("settlement contract bound")
	return contract, nil
}

func (svc *Service) Start() error {
	svc.coordinator.Start(context.Background())
	return nil
}

func (svc *Service) Stop() error {
	svc.coordinator.Stop()
	if svc.client != nil {
		svc.client.Close()
	}
	svc.logger.Info().Interface("stats", svc.coordinator.Stats()).Msg("settlement stopped")
	return nil
}

func (svc *Service) Coordinator() *Coordinator {
	return svc.coordinator
}
