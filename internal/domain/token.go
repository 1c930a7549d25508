package domain

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int32          `json:"decimals"`
}

// ToUnits scales a human amount to on-chain units, truncating dust.
func (t Token) ToUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

func (t Token) FromUnits(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -t.Decimals)
}

// TokenRegistry maps symbols to on-chain token metadata.
type TokenRegistry struct {
	mu     sync.RWMutex
	tokens map[string]Token
}

func NewTokenRegistry(tokens ...Token) *TokenRegistry {
	r := &TokenRegistry{tokens: make(map[string]Token, len(tokens))}
	for _, t := range tokens {
		r.Register(t)
	}
	return r
}

// ParseTokens reads "SYMBOL:0xaddress:decimals" entries separated by commas.
func ParseTokens(raw string) (*TokenRegistry, error) {
	r := NewTokenRegistry()
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid token entry %q", entry)
		}
		if !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("invalid token address %q", parts[1])
		}
		decimals, err := strconv.ParseInt(parts[2], 10, 32)
		if err != nil || decimals < 0 || decimals > 36 {
			return nil, fmt.Errorf("invalid token decimals %q", parts[2])
		}
		r.Register(Token{
			Symbol:   strings.ToUpper(parts[0]),
			Address:  common.HexToAddress(parts[1]),
			Decimals: int32(decimals),
		})
	}
	return r, nil
}

func (r *TokenRegistry) Register(t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[strings.ToUpper(t.Symbol)] = t
}

func (r *TokenRegistry) Get(symbol string) (Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[strings.ToUpper(symbol)]
	return t, ok
}

// Resolve returns base and quote metadata for a pair.
func (r *TokenRegistry) Resolve(pair Pair) (Token, Token, error) {
	base, ok := r.Get(pair.Base)
	if !ok {
		return Token{}, Token{}, fmt.Errorf("unknown token %s", pair.Base)
	}
	quote, ok := r.Get(pair.Quote)
	if !ok {
		return Token{}, Token{}, fmt.Errorf("unknown token %s", pair.Quote)
	}
	return base, quote, nil
}

func (r *TokenRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
