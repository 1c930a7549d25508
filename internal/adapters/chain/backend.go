// Package chain holds the go-ethereum plumbing shared by the AMM pool and
// settlement contract adapters.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
)

const DefaultTxTimeout = 60 * time.Second

var (
	ErrReverted        = errors.New("transaction reverted")
	ErrUnexpectedValue = errors.New("unexpected contract return value")
	ErrNoSigner        = errors.New("no transaction signer configured")
)

// Backend is what bound contracts need: calls, sends, and receipt lookups.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

func Dial(rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	log.Info().Str("rpc", rpcURL).Msg("[chain] connected")
	return client, nil
}

// Transactor serializes sends from one key so auto-assigned nonces never collide.
type Transactor struct {
	mu   sync.Mutex
	opts *bind.TransactOpts
}

func NewTransactor(privateKeyHex string, chainID *big.Int) (*Transactor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}
	return &Transactor{opts: opts}, nil
}

func NewTransactorFromOpts(opts *bind.TransactOpts) *Transactor {
	return &Transactor{opts: opts}
}

func (t *Transactor) From() common.Address {
	return t.opts.From
}

// Transact sends method on contract and waits for a successful receipt.
func (t *Transactor) Transact(ctx context.Context, backend Backend, contract *bind.BoundContract, timeout time.Duration, method string, args ...interface{}) (*types.Receipt, error) {
	if t == nil || t.opts == nil {
		return nil, ErrNoSigner
	}
	if timeout <= 0 {
		timeout = DefaultTxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.mu.Lock()
	opts := *t.opts
	opts.Context = ctx
	tx, err := contract.Transact(&opts, method, args...)
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s: send failed: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: waiting for %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s %s", ErrReverted, method, tx.Hash().Hex())
	}
	return receipt, nil
}

func BindContract(backend Backend, address common.Address, abiJSON string) (*bind.BoundContract, abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, abi.ABI{}, fmt.Errorf("invalid abi: %w", err)
	}
	return bind.NewBoundContract(address, parsed, backend, backend, backend), parsed, nil
}

// CallBigInt calls a view method that returns a single uint256.
func CallBigInt(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrUnexpectedValue, method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedValue, method)
	}
	return v, nil
}

// TradeKey derives the bytes32 trade identifier used on-chain.
func TradeKey(tradeID string) [32]byte {
	return crypto.Keccak256Hash([]byte(tradeID))
}
