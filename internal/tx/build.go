package tx

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

const fullMarginFraction = 10000

// ResolveExpiry maps the caller's expiry to the value carried on the wire.
// Immediate-or-cancel orders never rest, so their expiry is forced to 0.
func ResolveExpiry(tif core.TimeInForce, expiry int64, set bool) int64 {
	if tif == core.ImmediateOrCancel {
		return core.NoOrderExpiry
	}
	if !set {
		return core.DefaultOrderExpiry
	}
	return expiry
}

func BuildCreateOrder(acct Account, p core.CreateOrderParams, nonce int64) (CreateOrder, error) {
	if err := checkNonce(nonce); err != nil {
		return CreateOrder{}, err
	}
	if p.BaseAmount <= 0 {
		return CreateOrder{}, core.Invalid("base_amount", "must be > 0")
	}
	if p.Price <= 0 {
		return CreateOrder{}, core.Invalid("price", "must be > 0")
	}
	if p.ClientOrderIndex < 0 {
		return CreateOrder{}, core.Invalid("client_order_index", "must be >= 0")
	}
	if !p.OrderType.Valid() {
		return CreateOrder{}, core.Invalid("order_type", "is unknown")
	}
	if p.TimeInForce > core.PostOnly {
		return CreateOrder{}, core.Invalid("time_in_force", "is unknown")
	}
	if p.TriggerPrice < 0 {
		return CreateOrder{}, core.Invalid("trigger_price", "must be >= 0")
	}
	if isTriggered(p.OrderType) && p.TriggerPrice == core.NilTriggerPrice {
		return CreateOrder{}, core.Invalid("trigger_price", "is required for conditional orders")
	}
	expiry, set := p.Expiry.Get()
	if set && expiry < core.DefaultOrderExpiry {
		return CreateOrder{}, core.Invalid("order_expiry", "must be -1, 0 or a ms timestamp")
	}
	return CreateOrder{
		Account:          acct,
		MarketIndex:      p.MarketIndex,
		ClientOrderIndex: p.ClientOrderIndex,
		BaseAmount:       p.BaseAmount,
		Price:            p.Price,
		IsAsk:            boolByte(p.Side == core.Ask),
		OrderType:        p.OrderType,
		TimeInForce:      p.TimeInForce,
		ReduceOnly:       boolByte(p.ReduceOnly),
		TriggerPrice:     p.TriggerPrice,
		OrderExpiry:      ResolveExpiry(p.TimeInForce, expiry, set),
		Nonce:            nonce,
	}, nil
}

func BuildCancelOrder(acct Account, p core.CancelOrderParams, nonce int64) (CancelOrder, error) {
	if err := checkNonce(nonce); err != nil {
		return CancelOrder{}, err
	}
	if p.OrderIndex < 0 {
		return CancelOrder{}, core.Invalid("order_index", "must be >= 0")
	}
	return CancelOrder{Account: acct, MarketIndex: p.MarketIndex, OrderIndex: p.OrderIndex, Nonce: nonce}, nil
}

// BuildCancelAllOrders ignores at for immediate cancels.
func BuildCancelAllOrders(acct Account, tif core.CancelAllTimeInForce, at int64, nonce int64) (CancelAllOrders, error) {
	if err := checkNonce(nonce); err != nil {
		return CancelAllOrders{}, err
	}
	if !tif.Valid() {
		return CancelAllOrders{}, core.Invalid("time_in_force", "is unknown")
	}
	if tif == core.CancelAllImmediate {
		at = 0
	} else if tif == core.CancelAllScheduled && at <= 0 {
		return CancelAllOrders{}, core.Invalid("time", "is required for scheduled cancel")
	}
	if at < 0 {
		return CancelAllOrders{}, core.Invalid("time", "must be >= 0")
	}
	return CancelAllOrders{Account: acct, TimeInForce: tif, Time: at, Nonce: nonce}, nil
}

func BuildTransfer(acct Account, to int64, amount int64, nonce int64) (Transfer, error) {
	if err := checkNonce(nonce); err != nil {
		return Transfer{}, err
	}
	if to < 0 {
		return Transfer{}, core.Invalid("to_account_index", "must be >= 0")
	}
	if to == acct.AccountIndex {
		return Transfer{}, core.Invalid("to_account_index", "must differ from the sending account")
	}
	if amount <= 0 {
		return Transfer{}, core.Invalid("amount", "must be > 0")
	}
	return Transfer{Account: acct, ToAccountIndex: to, Amount: amount, Nonce: nonce}, nil
}

func BuildWithdraw(acct Account, amount int64, nonce int64) (Withdraw, error) {
	if err := checkNonce(nonce); err != nil {
		return Withdraw{}, err
	}
	if amount <= 0 {
		return Withdraw{}, core.Invalid("amount", "must be > 0")
	}
	return Withdraw{Account: acct, Amount: amount, Nonce: nonce}, nil
}

func BuildCreateSubAccount(acct Account, nonce int64) (CreateSubAccount, error) {
	if err := checkNonce(nonce); err != nil {
		return CreateSubAccount{}, err
	}
	return CreateSubAccount{Account: acct, Nonce: nonce}, nil
}

func BuildModifyOrder(acct Account, p core.ModifyOrderParams, nonce int64) (ModifyOrder, error) {
	if err := checkNonce(nonce); err != nil {
		return ModifyOrder{}, err
	}
	if p.OrderIndex < 0 {
		return ModifyOrder{}, core.Invalid("order_index", "must be >= 0")
	}
	if p.BaseAmount <= 0 {
		return ModifyOrder{}, core.Invalid("base_amount", "must be > 0")
	}
	if p.Price <= 0 {
		return ModifyOrder{}, core.Invalid("price", "must be > 0")
	}
	if p.TriggerPrice < 0 {
		return ModifyOrder{}, core.Invalid("trigger_price", "must be >= 0")
	}
	return ModifyOrder{
		Account:      acct,
		MarketIndex:  p.MarketIndex,
		OrderIndex:   p.OrderIndex,
		BaseAmount:   p.BaseAmount,
		Price:        p.Price,
		TriggerPrice: p.TriggerPrice,
		Nonce:        nonce,
	}, nil
}

func BuildChangePubKey(acct Account, pubKey string, nonce int64) (ChangePubKey, error) {
	if err := checkNonce(nonce); err != nil {
		return ChangePubKey{}, err
	}
	if pubKey == "" {
		return ChangePubKey{}, core.Invalid("pub_key", "is required")
	}
	return ChangePubKey{Account: acct, PubKey: pubKey, Nonce: nonce}, nil
}

func BuildUpdateLeverage(acct Account, market uint8, mode core.MarginMode, fraction uint16, nonce int64) (UpdateLeverage, error) {
	if err := checkNonce(nonce); err != nil {
		return UpdateLeverage{}, err
	}
	if mode != core.MarginCross && mode != core.MarginIsolated {
		return UpdateLeverage{}, core.Invalid("margin_mode", "is unknown")
	}
	if fraction == 0 || fraction > fullMarginFraction {
		return UpdateLeverage{}, core.Invalid("initial_margin_fraction", "must be in (0, 10000]")
	}
	return UpdateLeverage{
		Account:               acct,
		MarketIndex:           market,
		InitialMarginFraction: fraction,
		MarginMode:            mode,
		Nonce:                 nonce,
	}, nil
}

// LeverageToFraction converts a leverage multiple (e.g. 20) to the initial
// margin fraction in basis points, rounded to the nearest point.
func LeverageToFraction(leverage decimal.Decimal) (uint16, error) {
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return 0, core.Invalid("leverage", "must be >= 1")
	}
	v := decimal.NewFromInt(fullMarginFraction).Div(leverage).Round(0).IntPart()
	if v < 1 || v > math.MaxUint16 {
		return 0, core.Invalid("leverage", "is out of range")
	}
	return uint16(v), nil
}

func isTriggered(t core.OrderType) bool {
	switch t {
	case core.OrderTypeStopLoss, core.OrderTypeStopLossLimit, core.OrderTypeTakeProfit, core.OrderTypeTakeProfitLimit:
		return true
	}
	return false
}

func checkNonce(nonce int64) error {
	if nonce < 0 {
		return core.Invalid("nonce", "must be >= 0")
	}
	return nil
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
