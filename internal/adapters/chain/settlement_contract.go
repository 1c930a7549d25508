package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/hybrid-router/internal/domain"
)

const settlementABI = `[
  {"type":"function","name":"settleTrade","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"tradeId","type":"bytes32"},{"name":"buyer","type":"address"},{"name":"seller","type":"address"},
    {"name":"buyToken","type":"address"},{"name":"sellToken","type":"address"},
    {"name":"buyAmount","type":"uint256"},{"name":"sellAmount","type":"uint256"},
    {"name":"buyerNonce","type":"uint256"},{"name":"sellerNonce","type":"uint256"}]},
  {"type":"function","name":"batchSettleTrades","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"tradeIds","type":"bytes32[]"},{"name":"buyers","type":"address[]"},{"name":"sellers","type":"address[]"},
    {"name":"buyTokens","type":"address[]"},{"name":"sellTokens","type":"address[]"},
    {"name":"buyAmounts","type":"uint256[]"},{"name":"sellAmounts","type":"uint256[]"},
    {"name":"buyerNonces","type":"uint256[]"},{"name":"sellerNonces","type":"uint256[]"}]},
  {"type":"function","name":"getUserNonce","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"TradeSettled","anonymous":false,"inputs":[
    {"name":"tradeId","type":"bytes32","indexed":true},{"name":"buyer","type":"address","indexed":true},
    {"name":"seller","type":"address","indexed":true}]}
]`

// SettlementContract is the go-ethereum binding of the on-chain settlement contract.
type SettlementContract struct {
	address    common.Address
	backend    Backend
	contract   *bind.BoundContract
	transactor *Transactor
	txTimeout  time.Duration
}

func NewSettlementContract(backend Backend, address common.Address, transactor *Transactor, txTimeout time.Duration) (*SettlementContract, error) {
	contract, _, err := BindContract(backend, address, settlementABI)
	if err != nil {
		return nil, err
	}
	return &SettlementContract{
		address:    address,
		backend:    backend,
		contract:   contract,
		transactor: transactor,
		txTimeout:  txTimeout,
	}, nil
}

func (s *SettlementContract) GetUserNonce(ctx context.Context, user common.Address) (*big.Int, error) {
	return CallBigInt(ctx, s.contract, "getUserNonce", user)
}

func (s *SettlementContract) SettleTrade(ctx context.Context, in domain.SettlementInstruction) (string, error) {
	t := in.Trade
	receipt, err := s.transactor.Transact(ctx, s.backend, s.contract, s.txTimeout, "settleTrade",
		TradeKey(t.TradeID), t.Buyer, t.Seller, t.BuyToken, t.SellToken,
		t.BuyAmount, t.SellAmount, in.BuyerNonce, in.SellerNonce)
	if err != nil {
		return "", err
	}
	log.Info().
		Str("trade_id", t.TradeID).
		Str("tx", receipt.TxHash.Hex()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("[SettlementContract] trade settled")
	return receipt.TxHash.Hex(), nil
}

func (s *SettlementContract) BatchSettleTrades(ctx context.Context, batch []domain.SettlementInstruction) (string, error) {
	n := len(batch)
	if n == 0 {
		return "", fmt.Errorf("empty settlement batch")
	}
	var (
		tradeIDs     = make([][32]byte, n)
		buyers       = make([]common.Address, n)
		sellers      = make([]common.Address, n)
		buyTokens    = make([]common.Address, n)
		sellTokens   = make([]common.Address, n)
		buyAmounts   = make([]*big.Int, n)
		sellAmounts  = make([]*big.Int, n)
		buyerNonces  = make([]*big.Int, n)
		sellerNonces = make([]*big.Int, n)
	)
	for i, in := range batch {
		tradeIDs[i] = TradeKey(in.Trade.TradeID)
		buyers[i] = in.Trade.Buyer
		sellers[i] = in.Trade.Seller
		buyTokens[i] = in.Trade.BuyToken
		sellTokens[i] = in.Trade.SellToken
		buyAmounts[i] = in.Trade.BuyAmount
		sellAmounts[i] = in.Trade.SellAmount
		buyerNonces[i] = in.BuyerNonce
		sellerNonces[i] = in.SellerNonce
	}

	receipt, err := s.transactor.Transact(ctx, s.backend, s.contract, s.txTimeout, "batchSettleTrades",
		tradeIDs, buyers, sellers, buyTokens, sellTokens, buyAmounts, sellAmounts, buyerNonces, sellerNonces)
	if err != nil {
		return "", err
	}
	log.Info().
		Int("trades", n).
		Str("tx", receipt.TxHash.Hex()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("[SettlementContract] batch settled")
	return receipt.TxHash.Hex(), nil
}
