package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andrew-solarstorm/go-packages/common"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

const (
	VenueModeLocal  = "local"
	VenueModeRemote = "remote"
)

type VenueConfig struct {
	// Mode "local" runs the in-process pool and book; "remote" talks to a deployed
	// pool contract and an external matching engine.
	Mode string

	Pairs  string
	Tokens string

	AMMRPCURL      string
	AMMPoolAddress string
	AMMPrivateKey  string
	AMMChainID     int64
	AMMFeeBps      int

	BookURL string

	SeedBase  decimal.Decimal
	SeedQuote decimal.Decimal
}

func (c *VenueConfig) Key() string {
	return VENUE_CONFIG_KEY
}

func (c *VenueConfig) Load() error {
	var err error
	c.Mode = strings.ToLower(common.GetEnvOrDefault("VENUE_MODE", VenueModeLocal))
	c.Pairs = common.GetEnvOrDefault("PAIRS", "WETH/USDC")
	c.Tokens = common.GetEnvOrDefault("TOKENS",
		"WETH:0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2:18,USDC:0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48:6")
	c.AMMRPCURL = common.GetEnvOrDefault("AMM_RPC_URL", "")
	c.AMMPoolAddress = common.GetEnvOrDefault("AMM_POOL_ADDRESS", "")
	c.AMMPrivateKey = common.GetEnvOrDefault("AMM_PRIVATE_KEY", "")
	c.AMMChainID = int64(common.GetEnvOrDefaultInt("AMM_CHAIN_ID", 1))
	c.AMMFeeBps = common.GetEnvOrDefaultInt("AMM_FEE_BPS", 30)
	c.BookURL = common.GetEnvOrDefault("BOOK_URL", "")
	if c.SeedBase, err = decimalEnv("AMM_SEED_BASE", "1000"); err != nil {
		return err
	}
	if c.SeedQuote, err = decimalEnv("AMM_SEED_QUOTE", "2000000"); err != nil {
		return err
	}
	return c.Validate()
}

func (c *VenueConfig) Validate() error {
	if c.AMMFeeBps < 0 || c.AMMFeeBps >= 10000 {
		return errors.New("venue: AMM_FEE_BPS must be in [0, 10000)")
	}
	pairs, err := c.PairList()
	if err != nil {
		return err
	}
	tokens, err := c.TokenRegistry()
	if err != nil {
		return fmt.Errorf("venue: %w", err)
	}
	for _, p := range pairs {
		if _, _, err := tokens.Resolve(p); err != nil {
			return fmt.Errorf("venue: pair %s: %w", p, err)
		}
	}
	switch c.Mode {
	case VenueModeLocal:
		if !c.SeedBase.IsPositive() || !c.SeedQuote.IsPositive() {
			return errors.New("venue: local seed reserves must be positive")
		}
	case VenueModeRemote:
		if c.AMMRPCURL == "" || c.BookURL == "" {
			return errors.New("venue: remote mode needs AMM_RPC_URL and BOOK_URL")
		}
		addrs, err := c.PoolAddresses()
		if err != nil {
			return err
		}
		if len(addrs) != len(pairs) {
			return fmt.Errorf("venue: AMM_POOL_ADDRESS lists %d pools for %d pairs", len(addrs), len(pairs))
		}
	default:
		return fmt.Errorf("venue: unknown VENUE_MODE %q", c.Mode)
	}
	return nil
}

func (c *VenueConfig) TokenRegistry() (*domain.TokenRegistry, error) {
	return domain.ParseTokens(c.Tokens)
}

func (c *VenueConfig) PairList() ([]domain.Pair, error) {
	var pairs []domain.Pair
	for _, raw := range strings.Split(c.Pairs, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := domain.ParsePair(raw)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	if len(pairs) == 0 {
		return nil, errors.New("venue: PAIRS is empty")
	}
	return pairs, nil
}

// PoolAddresses returns the comma separated AMM_POOL_ADDRESS list, one per pair
// in PAIRS order.
func (c *VenueConfig) PoolAddresses() ([]gethcommon.Address, error) {
	var out []gethcommon.Address
	for _, raw := range strings.Split(c.AMMPoolAddress, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !gethcommon.IsHexAddress(raw) {
			return nil, fmt.Errorf("venue: invalid pool address %q", raw)
		}
		out = append(out, gethcommon.HexToAddress(raw))
	}
	return out, nil
}
