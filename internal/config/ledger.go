package config

import (
	"errors"

	"github.com/andrew-solarstorm/go-packages/common"
)

type LedgerConfig struct {
	// DBPath is the BoltDB file holding fills and settlement records.
	DBPath string
	// CacheSize bounds the in-process fill cache.
	CacheSize int
	// RedisAddr switches the read-path cache to redis when set.
	RedisAddr string
	RedisTTL  int
}

func (c *LedgerConfig) Key() string {
	return LEDGER_CONFIG_KEY
}

func (c *LedgerConfig) Load() error {
	c.DBPath = common.GetEnvOrDefault("LEDGER_DB_PATH", "./data/hybrid-router.db")
	c.CacheSize = common.GetEnvOrDefaultInt("LEDGER_CACHE_SIZE", 50000)
	c.RedisAddr = common.GetEnvOrDefault("LEDGER_REDIS_ADDR", "")
	c.RedisTTL = common.GetEnvOrDefaultInt("LEDGER_REDIS_TTL", 86400)
	return c.Validate()
}

func (c *LedgerConfig) Validate() error {
	if c.DBPath == "" || c.CacheSize <= 0 {
		return errors.New("invalid ledger config")
	}
	return nil
}
