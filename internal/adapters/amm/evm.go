package amm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/hybrid-router/internal/adapters/chain"
	"github.com/hxuan190/hybrid-router/internal/domain"
)

const poolABI = `[
  {"type":"function","name":"getReserves","stateMutability":"view","inputs":[],
   "outputs":[{"name":"reserveBase","type":"uint256"},{"name":"reserveQuote","type":"uint256"}]},
  {"type":"function","name":"swap","stateMutability":"nonpayable",
   "inputs":[{"name":"buyBase","type":"bool"},{"name":"amountIn","type":"uint256"},{"name":"minAmountOut","type":"uint256"}],
   "outputs":[{"name":"amountOut","type":"uint256"}]}
]`

type EVMPoolConfig struct {
	Pair          domain.Pair
	Address       common.Address
	BaseDecimals  int32
	QuoteDecimals int32
	FeeBps        uint64
	TxTimeout     time.Duration
}

// EVMPool prices against reserves read from a deployed constant-product pool
// and executes swaps as signed transactions.
type EVMPool struct {
	cfg        EVMPoolConfig
	curve      Curve
	backend    chain.Backend
	contract   *bind.BoundContract
	transactor *chain.Transactor
}

func NewEVMPool(backend chain.Backend, transactor *chain.Transactor, cfg EVMPoolConfig) (*EVMPool, error) {
	curve, err := NewCurve(cfg.FeeBps)
	if err != nil {
		return nil, err
	}
	contract, _, err := chain.BindContract(backend, cfg.Address, poolABI)
	if err != nil {
		return nil, err
	}
	return &EVMPool{
		cfg:        cfg,
		curve:      curve,
		backend:    backend,
		contract:   contract,
		transactor: transactor,
	}, nil
}

func (e *EVMPool) Pair() domain.Pair {
	return e.cfg.Pair
}

func (e *EVMPool) readReserves(ctx context.Context) (reserves, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getReserves"); err != nil {
		return reserves{}, fmt.Errorf("getReserves: %w", err)
	}
	if len(out) != 2 {
		return reserves{}, fmt.Errorf("%w: getReserves returned %d values", chain.ErrUnexpectedValue, len(out))
	}
	rb, ok1 := out[0].(*big.Int)
	rq, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return reserves{}, fmt.Errorf("%w: getReserves", chain.ErrUnexpectedValue)
	}
	base, of1 := uint256.FromBig(rb)
	quote, of2 := uint256.FromBig(rq)
	if of1 || of2 {
		return reserves{}, ErrOverflow
	}
	return reserves{
		base:          base,
		quote:         quote,
		baseDecimals:  e.cfg.BaseDecimals,
		quoteDecimals: e.cfg.QuoteDecimals,
		curve:         e.curve,
	}, nil
}

func (e *EVMPool) SpotPrice(ctx context.Context) (decimal.Decimal, error) {
	state, err := e.readReserves(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return state.spot(), nil
}

func (e *EVMPool) Quote(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error) {
	state, err := e.readReserves(ctx)
	if err != nil {
		return nil, err
	}
	units, err := toUnits(amount, e.cfg.BaseDecimals)
	if err != nil {
		return nil, err
	}
	res, _, err := state.simulate(side, units)
	return res, err
}

func (e *EVMPool) BaseToReachPrice(ctx context.Context, target decimal.Decimal, side domain.Side) (decimal.Decimal, error) {
	state, err := e.readReserves(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	units, err := state.baseToReach(target, side)
	if err != nil {
		return decimal.Zero, err
	}
	return fromUnits(units, e.cfg.BaseDecimals), nil
}

func (e *EVMPool) Swap(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.SwapResult, error) {
	state, err := e.readReserves(ctx)
	if err != nil {
		return nil, err
	}
	units, err := toUnits(amount, e.cfg.BaseDecimals)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, state, side, units)
}

func (e *EVMPool) SwapUntilPrice(ctx context.Context, side domain.Side, amount, bound decimal.Decimal) (*domain.SwapResult, error) {
	state, err := e.readReserves(ctx)
	if err != nil {
		return nil, err
	}
	units, err := toUnits(amount, e.cfg.BaseDecimals)
	if err != nil {
		return nil, err
	}
	clipped, err := state.clipToBound(side, units, bound)
	if err != nil {
		return nil, err
	}
	if clipped.IsZero() {
		spot := state.spot()
		return &domain.SwapResult{SpotBefore: spot, SpotAfter: spot}, nil
	}
	return e.execute(ctx, state, side, clipped)
}

// execute sends the swap with minAmountOut set to the simulated output, so any
// reserve movement since the read makes the transaction revert instead of slipping.
func (e *EVMPool) execute(ctx context.Context, state reserves, side domain.Side, baseUnits *uint256.Int) (*domain.SwapResult, error) {
	res, _, err := state.simulate(side, baseUnits)
	if err != nil {
		return nil, err
	}
	quoteUnits, err := state.quoteLeg(side, baseUnits)
	if err != nil {
		return nil, err
	}

	buyBase := side == domain.SideBuy
	amountIn, minOut := baseUnits, quoteUnits
	if buyBase {
		amountIn, minOut = quoteUnits, baseUnits
	}

	receipt, err := e.transactor.Transact(ctx, e.backend, e.contract, e.cfg.TxTimeout, "swap", buyBase, amountIn.ToBig(), minOut.ToBig())
	if err != nil {
		return nil, err
	}
	res.TxRef = receipt.TxHash.Hex()

	log.Info().
		Str("pair", e.cfg.Pair.String()).
		Str("side", string(side)).
		Str("base", res.ExecutedBase.String()).
		Str("tx", res.TxRef).
		Msg("[EVMPool] swap confirmed")
	return res, nil
}
