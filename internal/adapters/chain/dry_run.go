package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

// DryRunSettlement stands in for the settlement contract when no RPC endpoint is
// configured. It enforces the same nonce rule: a trade must carry each party's
// current nonce, which then advances by one.
type DryRunSettlement struct {
	mu     sync.Mutex
	nonces map[common.Address]*big.Int
	calls  int
}

func NewDryRunSettlement() *DryRunSettlement {
	return &DryRunSettlement{nonces: make(map[common.Address]*big.Int)}
}

func (d *DryRunSettlement) GetUserNonce(_ context.Context, user common.Address) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return new(big.Int).Set(d.nonce(user)), nil
}

func (d *DryRunSettlement) SettleTrade(ctx context.Context, in domain.SettlementInstruction) (string, error) {
	return d.BatchSettleTrades(ctx, []domain.SettlementInstruction{in})
}

func (d *DryRunSettlement) BatchSettleTrades(_ context.Context, batch []domain.SettlementInstruction) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[common.Address]*big.Int)
	current := func(a common.Address) *big.Int {
		if n, ok := next[a]; ok {
			return n
		}
		return d.nonce(a)
	}
	preimage := make([]byte, 0, 32*len(batch))
	for _, in := range batch {
		if current(in.Trade.Buyer).Cmp(in.BuyerNonce) != 0 || current(in.Trade.Seller).Cmp(in.SellerNonce) != 0 {
			return "", ErrReverted
		}
		next[in.Trade.Buyer] = new(big.Int).Add(in.BuyerNonce, big.NewInt(1))
		if in.Trade.Seller != in.Trade.Buyer {
			next[in.Trade.Seller] = new(big.Int).Add(in.SellerNonce, big.NewInt(1))
		}
		key := TradeKey(in.Trade.TradeID)
		preimage = append(preimage, key[:]...)
	}
	for a, n := range next {
		d.nonces[a] = n
	}
	d.calls++
	return crypto.Keccak256Hash(preimage).Hex(), nil
}

// Calls reports how many settlement transactions were accepted.
func (d *DryRunSettlement) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *DryRunSettlement) nonce(a common.Address) *big.Int {
	n, ok := d.nonces[a]
	if !ok {
		n = new(big.Int)
		d.nonces[a] = n
	}
	return n
}
