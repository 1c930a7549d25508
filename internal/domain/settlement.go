package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PendingTrade is a settlement queue entry derived from one order-book trade.
// The buyer receives BuyAmount of BuyToken (base) and the seller receives
// SellAmount of SellToken (quote). Amounts are already scaled to on-chain precision.
type PendingTrade struct {
	TradeID    string         `json:"tradeId"`
	FillID     string         `json:"fillId"`
	OrderID    string         `json:"orderId"`
	Buyer      common.Address `json:"buyer"`
	Seller     common.Address `json:"seller"`
	BuyToken   common.Address `json:"buyToken"`
	SellToken  common.Address `json:"sellToken"`
	BuyAmount  *big.Int       `json:"buyAmount"`
	SellAmount *big.Int       `json:"sellAmount"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}

// SettlementInstruction is a PendingTrade with the nonces fetched for one drain.
type SettlementInstruction struct {
	Trade       PendingTrade
	BuyerNonce  *big.Int
	SellerNonce *big.Int
}

// FailedSettlement keeps a trade whose settlement call failed, for operators.
type FailedSettlement struct {
	Trade    PendingTrade `json:"trade"`
	Error    string       `json:"error"`
	FailedAt time.Time    `json:"failedAt"`
}
