package core

import (
	"strconv"
	"time"

	"github.com/samber/mo"
)

type TxType uint8

const (
	TxTypeChangePubKey     TxType = 8
	TxTypeCreateSubAccount TxType = 9
	TxTypeCreatePublicPool TxType = 10
	TxTypeUpdatePublicPool TxType = 11
	TxTypeTransfer         TxType = 12
	TxTypeWithdraw         TxType = 13
	TxTypeCreateOrder      TxType = 14
	TxTypeCancelOrder      TxType = 15
	TxTypeCancelAllOrders  TxType = 16
	TxTypeModifyOrder      TxType = 17
	TxTypeMintShares       TxType = 18
	TxTypeBurnShares       TxType = 19
	TxTypeUpdateLeverage   TxType = 20
)

var txTypeNames = map[TxType]string{
	TxTypeChangePubKey:     "change_pub_key",
	TxTypeCreateSubAccount: "create_sub_account",
	TxTypeCreatePublicPool: "create_public_pool",
	TxTypeUpdatePublicPool: "update_public_pool",
	TxTypeTransfer:         "transfer",
	TxTypeWithdraw:         "withdraw",
	TxTypeCreateOrder:      "create_order",
	TxTypeCancelOrder:      "cancel_order",
	TxTypeCancelAllOrders:  "cancel_all_orders",
	TxTypeModifyOrder:      "modify_order",
	TxTypeMintShares:       "mint_shares",
	TxTypeBurnShares:       "burn_shares",
	TxTypeUpdateLeverage:   "update_leverage",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return "tx_type_" + strconv.Itoa(int(t))
}

type OrderType uint8

const (
	OrderTypeLimit           OrderType = 0
	OrderTypeMarket          OrderType = 1
	OrderTypeStopLoss        OrderType = 2
	OrderTypeStopLossLimit   OrderType = 3
	OrderTypeTakeProfit      OrderType = 4
	OrderTypeTakeProfitLimit OrderType = 5
	OrderTypeTWAP            OrderType = 6
)

func (t OrderType) Valid() bool {
	return t <= OrderTypeTWAP
}

// TimeInForce codes for CreateOrder. FillOrKill and PostOnly share the wire
// value 2 and are passed through untouched; which meaning applies is decided
// by the venue per order type.
type TimeInForce uint8

const (
	ImmediateOrCancel TimeInForce = 0
	GoodTillTime      TimeInForce = 1
	FillOrKill        TimeInForce = 2
	PostOnly          TimeInForce = 2
)

// CancelAllTimeInForce codes for CancelAllOrders.
type CancelAllTimeInForce uint8

const (
	CancelAllImmediate CancelAllTimeInForce = 0
	CancelAllScheduled CancelAllTimeInForce = 1
	CancelAllAbort     CancelAllTimeInForce = 2
)

func (t CancelAllTimeInForce) Valid() bool {
	return t <= CancelAllAbort
}

type MarginMode uint8

const (
	MarginCross    MarginMode = 0
	MarginIsolated MarginMode = 1
)

type Side uint8

const (
	Bid Side = 0
	Ask Side = 1
)

func (s Side) Opposite() Side {
	if s == Ask {
		return Bid
	}
	return Ask
}

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

const (
	// NilTriggerPrice marks an order without trigger.
	NilTriggerPrice int64 = 0
	// DefaultOrderExpiry lets the venue apply its default (28 day) expiry.
	DefaultOrderExpiry int64 = -1
	// NoOrderExpiry is forced for immediate-or-cancel orders.
	NoOrderExpiry int64 = 0

	MaxBatchSize = 50
)

type CreateOrderParams struct {
	MarketIndex      uint8
	ClientOrderIndex int64
	BaseAmount       int64
	Price            int64
	Side             Side
	OrderType        OrderType
	TimeInForce      TimeInForce
	ReduceOnly       bool
	TriggerPrice     int64
	// Expiry is an absolute ms timestamp. None resolves per time-in-force.
	Expiry mo.Option[int64]
}

type MarketOrderParams struct {
	MarketIndex      uint8
	ClientOrderIndex int64
	BaseAmount       int64
	Price            int64
	Side             Side
	ReduceOnly       bool
}

type CancelOrderParams struct {
	MarketIndex uint8
	OrderIndex  int64
}

type ModifyOrderParams struct {
	MarketIndex  uint8
	OrderIndex   int64
	BaseAmount   int64
	Price        int64
	TriggerPrice int64
}

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

func (s TxStatus) Terminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// TxRecord is the ledger's view of a submitted transaction.
type TxRecord struct {
	Hash        string
	Status      TxStatus
	BlockHeight int64
	Type        TxType
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Position is one open position from an account snapshot. Size is in the
// market's smallest base unit. Side is Bid for a long and Ask for a short.
type Position struct {
	MarketIndex uint8
	Size        int64
	Side        Side
	MarkPrice   int64
}

// SignedTx is one entry of a sendTxBatch request.
type SignedTx struct {
	Type   TxType `json:"tx_type"`
	TxInfo string `json:"tx_info"`
}

type APIKey struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}
