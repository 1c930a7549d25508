package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/andrew-solarstorm/go-packages/common"
	gethcommon "github.com/ethereum/go-ethereum/common"
)

type SettlementConfig struct {
	BatchSize     int
	DrainInterval time.Duration
	TxTimeout     time.Duration

	// Without RPCURL the coordinator settles against an in-memory dry-run contract.
	RPCURL     string
	Contract   string
	PrivateKey string
	ChainID    int64
}

func (c *SettlementConfig) Key() string {
	return SETTLEMENT_CONFIG_KEY
}

func (c *SettlementConfig) Load() error {
	var err error
	c.BatchSize = common.GetEnvOrDefaultInt("SETTLEMENT_BATCH_SIZE", 20)
	if c.DrainInterval, err = durationEnv("SETTLEMENT_DRAIN_INTERVAL", "5s"); err != nil {
		return err
	}
	if c.TxTimeout, err = durationEnv("SETTLEMENT_TX_TIMEOUT", "60s"); err != nil {
		return err
	}
	c.RPCURL = common.GetEnvOrDefault("SETTLEMENT_RPC_URL", "")
	c.Contract = common.GetEnvOrDefault("SETTLEMENT_CONTRACT", "")
	c.PrivateKey = common.GetEnvOrDefault("SETTLEMENT_PRIVATE_KEY", "")
	c.ChainID = int64(common.GetEnvOrDefaultInt("SETTLEMENT_CHAIN_ID", 1))
	return c.Validate()
}

func (c *SettlementConfig) DryRun() bool {
	return c.RPCURL == ""
}

func (c *SettlementConfig) Validate() error {
	if c.BatchSize <= 0 || c.DrainInterval <= 0 {
		return errors.New("settlement: batch size and drain interval must be positive")
	}
	if c.DryRun() {
		return nil
	}
	if !gethcommon.IsHexAddress(c.Contract) {
		return fmt.Errorf("settlement: invalid SETTLEMENT_CONTRACT %q", c.Contract)
	}
	if c.PrivateKey == "" {
		return errors.New("settlement: SETTLEMENT_PRIVATE_KEY is required with SETTLEMENT_RPC_URL")
	}
	return nil
}
