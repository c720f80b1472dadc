package tx

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

// Canonical returns the unsigned tx_info bytes a signature covers.
func Canonical(t Tx) ([]byte, error) {
	if t == nil {
		return nil, core.Invalid("tx", "is nil")
	}
	return json.Marshal(t.wire(nil))
}

// Encode returns the signed tx_info JSON submitted to the venue.
func Encode(t Tx, sig []byte) (string, error) {
	if t == nil {
		return "", core.Invalid("tx", "is nil")
	}
	if len(sig) == 0 {
		return "", core.Invalid("signature", "is empty")
	}
	data, err := json.Marshal(t.wire(sig))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses canonical (or signed) tx_info of the given type. A signature,
// if present, is ignored.
func Decode(txType core.TxType, data []byte) (Tx, error) {
	switch txType {
	case core.TxTypeCreateOrder:
		var w createOrderWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		out := CreateOrder{
			Account:          Account{AccountIndex: w.AccountIndex, APIKeyIndex: w.APIKeyIndex},
			MarketIndex:      w.MarketIndex,
			ClientOrderIndex: w.ClientOrderIndex,
			BaseAmount:       w.BaseAmount,
			Price:            w.Price,
			IsAsk:            w.IsAsk,
			OrderType:        core.OrderType(w.Type),
			TimeInForce:      core.TimeInForce(w.TimeInForce),
			ReduceOnly:       w.ReduceOnly,
			TriggerPrice:     w.TriggerPrice,
			OrderExpiry:      core.DefaultOrderExpiry,
			Nonce:            w.Nonce,
		}
		if w.OrderExpiry != nil {
			out.OrderExpiry = *w.OrderExpiry
		}
		return out, nil
	case core.TxTypeCancelOrder:
		var w cancelOrderWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return CancelOrder{
			Account:     Account{AccountIndex: w.AccountIndex, APIKeyIndex: w.APIKeyIndex},
			MarketIndex: w.MarketIndex,
			OrderIndex:  w.Index,
			Nonce:       w.Nonce,
		}, nil
	case core.TxTypeCancelAllOrders:
		var w cancelAllWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return CancelAllOrders{
			Account:     Account{AccountIndex: w.AccountIndex, APIKeyIndex: w.APIKeyIndex},
			TimeInForce: core.CancelAllTimeInForce(w.TimeInForce),
			Time:        w.Time,
			Nonce:       w.Nonce,
		}, nil
	case core.TxTypeTransfer:
		var w transferWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return Transfer{
			Account:        Account{AccountIndex: w.FromAccountIndex, APIKeyIndex: w.APIKeyIndex},
			ToAccountIndex: w.ToAccountIndex,
			Amount:         w.USDCAmount,
			Nonce:          w.Nonce,
		}, nil
	case core.TxTypeWithdraw:
		var w withdrawWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return Withdraw{
			Account: Account{AccountIndex: w.FromAccountIndex, APIKeyIndex: w.APIKeyIndex},
			Amount:  w.USDCAmount,
			Nonce:   w.Nonce,
		}, nil
	case core.TxTypeCreateSubAccount:
		var w createSubAccountWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return CreateSubAccount{
			Account: Account{AccountIndex: w.AccountIndex, APIKeyIndex: w.APIKeyIndex},
			Nonce:   w.Nonce,
		}, nil
	case core.TxTypeModifyOrder:
		var w modifyOrderWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return ModifyOrder{
			Account:      Account{AccountIndex: w.AccountIndex, APIKeyIndex: w.APIKeyIndex},
			MarketIndex:  w.MarketIndex,
			OrderIndex:   w.Index,
			BaseAmount:   w.BaseAmount,
			Price:        w.Price,
			TriggerPrice: w.TriggerPrice,
			Nonce:        w.Nonce,
		}, nil
	case core.TxTypeChangePubKey:
		var w changePubKeyWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return ChangePubKey{
			Account: Account{AccountIndex: w.AccountIndex, APIKeyIndex: w.APIKeyIndex},
			PubKey:  w.PubKey,
			Nonce:   w.Nonce,
		}, nil
	case core.TxTypeUpdateLeverage:
		var w updateLeverageWire
		if err := unmarshal(data, &w); err != nil {
			return nil, err
		}
		return UpdateLeverage{
			Account:               Account{AccountIndex: w.AccountIndex, APIKeyIndex: w.APIKeyIndex},
			MarketIndex:           w.MarketIndex,
			InitialMarginFraction: w.InitialMarginFraction,
			MarginMode:            core.MarginMode(w.MarginMode),
			Nonce:                 w.Nonce,
		}, nil
	}
	return nil, fmt.Errorf("%w: no codec for %s", core.ErrUnsupported, txType)
}

func unmarshal(data []byte, w any) error {
	if err := json.Unmarshal(data, w); err != nil {
		return core.Invalid("tx_info", err.Error())
	}
	return nil
}
