package tx

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

var testAccount = Account{AccountIndex: 7, APIKeyIndex: 3}

func limitParams() core.CreateOrderParams {
	return core.CreateOrderParams{
		MarketIndex:      1,
		ClientOrderIndex: 42,
		BaseAmount:       1000,
		Price:            250000,
		Side:             core.Ask,
		OrderType:        core.OrderTypeLimit,
		TimeInForce:      core.GoodTillTime,
	}
}

func TestCanonicalCreateOrderIsStable(t *testing.T) {
	first, err := BuildCreateOrder(testAccount, limitParams(), 9)
	if err != nil {
		t.Fatalf("BuildCreateOrder() error = %v", err)
	}
	second, err := BuildCreateOrder(testAccount, limitParams(), 9)
	if err != nil {
		t.Fatalf("BuildCreateOrder() error = %v", err)
	}
	a, err := Canonical(first)
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	b, err := Canonical(second)
	if err != nil {
		t.Fatalf("Canonical() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("Canonical() not stable:\n%s\n%s", a, b)
	}
	want := `{"AccountIndex":7,"ApiKeyIndex":3,"MarketIndex":1,"ClientOrderIndex":42,"BaseAmount":1000,"Price":250000,"IsAsk":1,"Type":0,"TimeInForce":1,"ReduceOnly":0,"TriggerPrice":0,"Nonce":9}`
	if string(a) != want {
		t.Fatalf("Canonical() = %s, want %s", a, want)
	}
}

func TestExpiryResolution(t *testing.T) {
	p := limitParams()
	p.TimeInForce = core.ImmediateOrCancel
	order, err := BuildCreateOrder(testAccount, p, 1)
	if err != nil {
		t.Fatalf("BuildCreateOrder(ioc) error = %v", err)
	}
	if order.OrderExpiry != 0 {
		t.Fatalf("ioc OrderExpiry = %d, want 0", order.OrderExpiry)
	}
	data, _ := Canonical(order)
	if !strings.Contains(string(data), `"OrderExpiry":0,"ExpiredAt":0`) {
		t.Fatalf("ioc canonical = %s, want explicit zero expiry", data)
	}

	p.Expiry = mo.Some[int64](5000)
	order, _ = BuildCreateOrder(testAccount, p, 1)
	if order.OrderExpiry != 0 {
		t.Fatalf("ioc with explicit expiry OrderExpiry = %d, want 0", order.OrderExpiry)
	}

	p = limitParams()
	order, _ = BuildCreateOrder(testAccount, p, 1)
	if order.OrderExpiry != core.DefaultOrderExpiry {
		t.Fatalf("gtt OrderExpiry = %d, want -1", order.OrderExpiry)
	}
	data, _ = Canonical(order)
	if strings.Contains(string(data), "OrderExpiry") || strings.Contains(string(data), "ExpiredAt") {
		t.Fatalf("gtt canonical = %s, want expiry fields omitted", data)
	}

	p.Expiry = mo.Some[int64](5000)
	order, _ = BuildCreateOrder(testAccount, p, 1)
	data, _ = Canonical(order)
	if !strings.Contains(string(data), `"OrderExpiry":5000,"ExpiredAt":5000`) {
		t.Fatalf("explicit canonical = %s, want OrderExpiry=ExpiredAt=5000", data)
	}
}

func TestBuildCreateOrderValidation(t *testing.T) {
	p := limitParams()
	p.BaseAmount = 0
	if _, err := BuildCreateOrder(testAccount, p, 1); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("BuildCreateOrder(zero amount) error = %v, want ErrInvalid", err)
	}

	p = limitParams()
	p.OrderType = core.OrderTypeStopLoss
	if _, err := BuildCreateOrder(testAccount, p, 1); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("BuildCreateOrder(stop without trigger) error = %v, want ErrInvalid", err)
	}
	p.TriggerPrice = 240000
	if _, err := BuildCreateOrder(testAccount, p, 1); err != nil {
		t.Fatalf("BuildCreateOrder(stop with trigger) error = %v", err)
	}

	p = limitParams()
	p.Expiry = mo.Some[int64](-5)
	if _, err := BuildCreateOrder(testAccount, p, 1); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("BuildCreateOrder(expiry -5) error = %v, want ErrInvalid", err)
	}

	if _, err := BuildCreateOrder(testAccount, limitParams(), -1); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("BuildCreateOrder(nonce -1) error = %v, want ErrInvalid", err)
	}
}

func TestBuildCancelAllOrders(t *testing.T) {
	tx, err := BuildCancelAllOrders(testAccount, core.CancelAllImmediate, 123456, 4)
	if err != nil {
		t.Fatalf("BuildCancelAllOrders(immediate) error = %v", err)
	}
	if tx.Time != 0 {
		t.Fatalf("immediate Time = %d, want 0", tx.Time)
	}
	if _, err := BuildCancelAllOrders(testAccount, core.CancelAllScheduled, 0, 4); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("BuildCancelAllOrders(scheduled, 0) error = %v, want ErrInvalid", err)
	}
	if _, err := BuildCancelAllOrders(testAccount, core.CancelAllTimeInForce(9), 0, 4); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("BuildCancelAllOrders(unknown tif) error = %v, want ErrInvalid", err)
	}
}

func TestBuildTransferRejectsSelf(t *testing.T) {
	if _, err := BuildTransfer(testAccount, testAccount.AccountIndex, 10, 1); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("BuildTransfer(self) error = %v, want ErrInvalid", err)
	}
	tx, err := BuildTransfer(testAccount, 8, 10, 1)
	if err != nil {
		t.Fatalf("BuildTransfer() error = %v", err)
	}
	data, _ := Canonical(tx)
	want := `{"FromAccountIndex":7,"ApiKeyIndex":3,"ToAccountIndex":8,"USDCAmount":10,"Nonce":1}`
	if string(data) != want {
		t.Fatalf("Canonical(transfer) = %s, want %s", data, want)
	}
}

func TestEncodeAppendsSignature(t *testing.T) {
	order, _ := BuildCreateOrder(testAccount, limitParams(), 9)
	if _, err := Encode(order, nil); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("Encode(no sig) error = %v, want ErrInvalid", err)
	}
	signed, err := Encode(order, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.HasSuffix(signed, `"Nonce":9,"Sig":"AQID"}`) {
		t.Fatalf("Encode() = %s, want Sig appended last", signed)
	}
	var probe map[string]any
	if err := json.Unmarshal([]byte(signed), &probe); err != nil {
		t.Fatalf("Encode() produced invalid json: %v", err)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	p := limitParams()
	p.Expiry = mo.Some[int64](5000)
	order, _ := BuildCreateOrder(testAccount, p, 9)
	signed, _ := Encode(order, []byte{9})
	got, err := Decode(core.TxTypeCreateOrder, []byte(signed))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != Tx(order) {
		t.Fatalf("Decode() = %+v, want %+v", got, order)
	}

	order, _ = BuildCreateOrder(testAccount, limitParams(), 9)
	data, _ := Canonical(order)
	got, _ = Decode(core.TxTypeCreateOrder, data)
	if got.(CreateOrder).OrderExpiry != core.DefaultOrderExpiry {
		t.Fatalf("Decode(no expiry) OrderExpiry = %d, want -1", got.(CreateOrder).OrderExpiry)
	}

	if _, err := Decode(core.TxTypeMintShares, []byte(`{}`)); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("Decode(mint shares) error = %v, want ErrUnsupported", err)
	}
}

func TestLeverageToFraction(t *testing.T) {
	got, err := LeverageToFraction(decimal.NewFromInt(20))
	if err != nil || got != 500 {
		t.Fatalf("LeverageToFraction(20) = %d, %v, want 500", got, err)
	}
	got, _ = LeverageToFraction(decimal.RequireFromString("3"))
	if got != 3333 {
		t.Fatalf("LeverageToFraction(3) = %d, want 3333", got)
	}
	if _, err := LeverageToFraction(decimal.RequireFromString("0.5")); !errors.Is(err, core.ErrInvalid) {
		t.Fatalf("LeverageToFraction(0.5) error = %v, want ErrInvalid", err)
	}
}
