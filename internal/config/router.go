package config

import (
	"errors"

	"github.com/andrew-solarstorm/go-packages/common"
	"github.com/shopspring/decimal"
)

type RouterConfig struct {
	// MinChunkSize is the dust threshold: the loop stops once remaining is at or below it.
	MinChunkSize decimal.Decimal
	// MaxIterations bounds the chunk loop of one order.
	MaxIterations int
	// MaxChunkSize caps a chunk sent to the AMM when the book is empty.
	MaxChunkSize decimal.Decimal
	// MaxAMMChunkSize caps an AMM chunk taken while the book has liquidity.
	MaxAMMChunkSize decimal.Decimal
	// PriceEpsilon is the relative distance under which AMM and book prices count as equal.
	PriceEpsilon decimal.Decimal
	// DepthLevels is how many book levels are read per iteration.
	DepthLevels int
	// ArchiveSize bounds how many finished order results are kept in memory.
	ArchiveSize int
}

func (c *RouterConfig) Key() string {
	return ROUTER_CONFIG_KEY
}

func (c *RouterConfig) Load() error {
	var err error
	if c.MinChunkSize, err = decimalEnv("ROUTER_MIN_CHUNK_SIZE", "0.000001"); err != nil {
		return err
	}
	if c.MaxChunkSize, err = decimalEnv("ROUTER_MAX_CHUNK_SIZE", "500"); err != nil {
		return err
	}
	if c.MaxAMMChunkSize, err = decimalEnv("ROUTER_MAX_AMM_CHUNK_SIZE", "250"); err != nil {
		return err
	}
	if c.PriceEpsilon, err = decimalEnv("ROUTER_PRICE_EPSILON", "0.0001"); err != nil {
		return err
	}
	c.MaxIterations = common.GetEnvOrDefaultInt("ROUTER_MAX_ITERATIONS", 100)
	c.DepthLevels = common.GetEnvOrDefaultInt("ROUTER_DEPTH_LEVELS", 10)
	c.ArchiveSize = common.GetEnvOrDefaultInt("ROUTER_ARCHIVE_SIZE", 10000)
	return c.Validate()
}

func (c *RouterConfig) Validate() error {
	if c.MinChunkSize.IsNegative() {
		return errors.New("router: min chunk size must not be negative")
	}
	if !c.MaxChunkSize.IsPositive() || !c.MaxAMMChunkSize.IsPositive() {
		return errors.New("router: chunk size caps must be positive")
	}
	if c.PriceEpsilon.IsNegative() {
		return errors.New("router: price epsilon must not be negative")
	}
	if c.MaxIterations <= 0 || c.DepthLevels <= 0 || c.ArchiveSize <= 0 {
		return errors.New("router: iterations, depth levels and archive size must be positive")
	}
	return nil
}
