// Package tx holds the typed transactions a client signs and submits, and
// their canonical tx_info encoding. The signature covers the canonical bytes,
// so field order and numeric encodings here are part of the wire contract.
package tx

import "github.com/specialjp/lighter-ts-sub000/internal/core"

// Tx is implemented by every transaction kind in this package.
type Tx interface {
	Type() core.TxType
	NonceValue() int64
	Owner() Account
	wire(sig []byte) any
}

// Account identifies the (account, api key) pair a transaction is signed for.
type Account struct {
	AccountIndex int64
	APIKeyIndex  uint8
}

type CreateOrder struct {
	Account
	MarketIndex      uint8
	ClientOrderIndex int64
	BaseAmount       int64
	Price            int64
	IsAsk            uint8
	OrderType        core.OrderType
	TimeInForce      core.TimeInForce
	ReduceOnly       uint8
	TriggerPrice     int64
	// OrderExpiry is -1 when the venue default applies.
	OrderExpiry int64
	Nonce       int64
}

type CancelOrder struct {
	Account
	MarketIndex uint8
	OrderIndex  int64
	Nonce       int64
}

type CancelAllOrders struct {
	Account
	TimeInForce core.CancelAllTimeInForce
	Time        int64
	Nonce       int64
}

type Transfer struct {
	Account
	ToAccountIndex int64
	Amount         int64
	Nonce          int64
}

type Withdraw struct {
	Account
	Amount int64
	Nonce  int64
}

type CreateSubAccount struct {
	Account
	Nonce int64
}

type ModifyOrder struct {
	Account
	MarketIndex  uint8
	OrderIndex   int64
	BaseAmount   int64
	Price        int64
	TriggerPrice int64
	Nonce        int64
}

type ChangePubKey struct {
	Account
	PubKey string
	Nonce  int64
}

type UpdateLeverage struct {
	Account
	MarketIndex uint8
	// InitialMarginFraction is in basis points of notional (10000 = 1x).
	InitialMarginFraction uint16
	MarginMode            core.MarginMode
	Nonce                 int64
}

func (a Account) Owner() Account { return a }

func (t CreateOrder) Type() core.TxType      { return core.TxTypeCreateOrder }
func (t CancelOrder) Type() core.TxType      { return core.TxTypeCancelOrder }
func (t CancelAllOrders) Type() core.TxType  { return core.TxTypeCancelAllOrders }
func (t Transfer) Type() core.TxType         { return core.TxTypeTransfer }
func (t Withdraw) Type() core.TxType         { return core.TxTypeWithdraw }
func (t CreateSubAccount) Type() core.TxType { return core.TxTypeCreateSubAccount }
func (t ModifyOrder) Type() core.TxType      { return core.TxTypeModifyOrder }
func (t ChangePubKey) Type() core.TxType     { return core.TxTypeChangePubKey }
func (t UpdateLeverage) Type() core.TxType   { return core.TxTypeUpdateLeverage }

func (t CreateOrder) NonceValue() int64      { return t.Nonce }
func (t CancelOrder) NonceValue() int64      { return t.Nonce }
func (t CancelAllOrders) NonceValue() int64  { return t.Nonce }
func (t Transfer) NonceValue() int64         { return t.Nonce }
func (t Withdraw) NonceValue() int64         { return t.Nonce }
func (t CreateSubAccount) NonceValue() int64 { return t.Nonce }
func (t ModifyOrder) NonceValue() int64      { return t.Nonce }
func (t ChangePubKey) NonceValue() int64     { return t.Nonce }
func (t UpdateLeverage) NonceValue() int64   { return t.Nonce }

// Wire shapes. Field order is the canonical order; do not reorder.

type createOrderWire struct {
	AccountIndex     int64
	APIKeyIndex      uint8 `json:"ApiKeyIndex"`
	MarketIndex      uint8
	ClientOrderIndex int64
	BaseAmount       int64
	Price            int64
	IsAsk            uint8
	Type             uint8
	TimeInForce      uint8
	ReduceOnly       uint8
	TriggerPrice     int64
	OrderExpiry      *int64 `json:",omitempty"`
	ExpiredAt        *int64 `json:",omitempty"`
	Nonce            int64
	Sig              []byte `json:",omitempty"`
}

type cancelOrderWire struct {
	AccountIndex int64
	APIKeyIndex  uint8 `json:"ApiKeyIndex"`
	MarketIndex  uint8
	Index        int64
	Nonce        int64
	Sig          []byte `json:",omitempty"`
}

type cancelAllWire struct {
	AccountIndex int64
	APIKeyIndex  uint8 `json:"ApiKeyIndex"`
	TimeInForce  uint8
	Time         int64
	Nonce        int64
	Sig          []byte `json:",omitempty"`
}

type transferWire struct {
	FromAccountIndex int64
	APIKeyIndex      uint8 `json:"ApiKeyIndex"`
	ToAccountIndex   int64
	USDCAmount       int64
	Nonce            int64
	Sig              []byte `json:",omitempty"`
}

type withdrawWire struct {
	FromAccountIndex int64
	APIKeyIndex      uint8 `json:"ApiKeyIndex"`
	USDCAmount       int64
	Nonce            int64
	Sig              []byte `json:",omitempty"`
}

type createSubAccountWire struct {
	AccountIndex int64
	APIKeyIndex  uint8 `json:"ApiKeyIndex"`
	Nonce        int64
	Sig          []byte `json:",omitempty"`
}

type modifyOrderWire struct {
	AccountIndex int64
	APIKeyIndex  uint8 `json:"ApiKeyIndex"`
	MarketIndex  uint8
	Index        int64
	BaseAmount   int64
	Price        int64
	TriggerPrice int64
	Nonce        int64
	Sig          []byte `json:",omitempty"`
}

type changePubKeyWire struct {
	AccountIndex int64
	APIKeyIndex  uint8 `json:"ApiKeyIndex"`
	PubKey       string
	Nonce        int64
	Sig          []byte `json:",omitempty"`
}

type updateLeverageWire struct {
	AccountIndex          int64
	APIKeyIndex           uint8 `json:"ApiKeyIndex"`
	MarketIndex           uint8
	InitialMarginFraction uint16
	MarginMode            uint8
	Nonce                 int64
	Sig                   []byte `json:",omitempty"`
}

func (t CreateOrder) wire(sig []byte) any {
	w := createOrderWire{
		AccountIndex:     t.AccountIndex,
		APIKeyIndex:      t.APIKeyIndex,
		MarketIndex:      t.MarketIndex,
		ClientOrderIndex: t.ClientOrderIndex,
		BaseAmount:       t.BaseAmount,
		Price:            t.Price,
		IsAsk:            t.IsAsk,
		Type:             uint8(t.OrderType),
		TimeInForce:      uint8(t.TimeInForce),
		ReduceOnly:       t.ReduceOnly,
		TriggerPrice:     t.TriggerPrice,
		Nonce:            t.Nonce,
		Sig:              sig,
	}
	if t.OrderExpiry != core.DefaultOrderExpiry {
		expiry := t.OrderExpiry
		w.OrderExpiry = &expiry
		w.ExpiredAt = &expiry
	}
	return w
}

func (t CancelOrder) wire(sig []byte) any {
	return cancelOrderWire{
		AccountIndex: t.AccountIndex,
		APIKeyIndex:  t.APIKeyIndex,
		MarketIndex:  t.MarketIndex,
		Index:        t.OrderIndex,
		Nonce:        t.Nonce,
		Sig:          sig,
	}
}

func (t CancelAllOrders) wire(sig []byte) any {
	return cancelAllWire{
		AccountIndex: t.AccountIndex,
		APIKeyIndex:  t.APIKeyIndex,
		TimeInForce:  uint8(t.TimeInForce),
		Time:         t.Time,
		Nonce:        t.Nonce,
		Sig:          sig,
	}
}

func (t Transfer) wire(sig []byte) any {
	return transferWire{
		FromAccountIndex: t.AccountIndex,
		APIKeyIndex:      t.APIKeyIndex,
		ToAccountIndex:   t.ToAccountIndex,
		USDCAmount:       t.Amount,
		Nonce:            t.Nonce,
		Sig:              sig,
	}
}

func (t Withdraw) wire(sig []byte) any {
	return withdrawWire{
		FromAccountIndex: t.AccountIndex,
		APIKeyIndex:      t.APIKeyIndex,
		USDCAmount:       t.Amount,
		Nonce:            t.Nonce,
		Sig:              sig,
	}
}

func (t CreateSubAccount) wire(sig []byte) any {
	return createSubAccountWire{
		AccountIndex: t.AccountIndex,
		APIKeyIndex:  t.APIKeyIndex,
		Nonce:        t.Nonce,
		Sig:          sig,
	}
}

func (t ModifyOrder) wire(sig []byte) any {
	return modifyOrderWire{
		AccountIndex: t.AccountIndex,
		APIKeyIndex:  t.APIKeyIndex,
		MarketIndex:  t.MarketIndex,
		Index:        t.OrderIndex,
		BaseAmount:   t.BaseAmount,
		Price:        t.Price,
		TriggerPrice: t.TriggerPrice,
		Nonce:        t.Nonce,
		Sig:          sig,
	}
}

func (t ChangePubKey) wire(sig []byte) any {
	return changePubKeyWire{
		AccountIndex: t.AccountIndex,
		APIKeyIndex:  t.APIKeyIndex,
		PubKey:       t.PubKey,
		Nonce:        t.Nonce,
		Sig:          sig,
	}
}

func (t UpdateLeverage) wire(sig []byte) any {
	return updateLeverageWire{
		AccountIndex:          t.AccountIndex,
		APIKeyIndex:           t.APIKeyIndex,
		MarketIndex:           t.MarketIndex,
		InitialMarginFraction: t.InitialMarginFraction,
		MarginMode:            uint8(t.MarginMode),
		Nonce:                 t.Nonce,
		Sig:                   sig,
	}
}
