// Package signer turns canonical transactions into signed tx_info payloads.
//
// A backend implements Backend plus whichever capability interfaces it
// supports. Callers go through Sign and Require, which report a missing
// capability as a core.SignerCapabilityError instead of failing later.
package signer

import (
	"context"
	"time"

	"github.com/samber/mo"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

// Backend is the part every signer implements. Initialize is idempotent;
// capability calls made before it succeeds fail with core.ErrNotInitialized.
type Backend interface {
	Name() string
	Initialize(ctx context.Context) error
	Ready() bool
}

type CreateOrderSigner interface {
	SignCreateOrder(ctx context.Context, t tx.CreateOrder) (string, error)
}

type CancelOrderSigner interface {
	SignCancelOrder(ctx context.Context, t tx.CancelOrder) (string, error)
}

type CancelAllOrdersSigner interface {
	SignCancelAllOrders(ctx context.Context, t tx.CancelAllOrders) (string, error)
}

type TransferSigner interface {
	SignTransfer(ctx context.Context, t tx.Transfer) (string, error)
}

type WithdrawSigner interface {
	SignWithdraw(ctx context.Context, t tx.Withdraw) (string, error)
}

type CreateSubAccountSigner interface {
	SignCreateSubAccount(ctx context.Context, t tx.CreateSubAccount) (string, error)
}

type ModifyOrderSigner interface {
	SignModifyOrder(ctx context.Context, t tx.ModifyOrder) (string, error)
}

type ChangePubKeySigner interface {
	SignChangePubKey(ctx context.Context, t tx.ChangePubKey) (string, error)
}

type UpdateLeverageSigner interface {
	SignUpdateLeverage(ctx context.Context, t tx.UpdateLeverage) (string, error)
}

// AuthTokenCreator mints a bearer token for acct valid until deadline.
type AuthTokenCreator interface {
	CreateAuthToken(ctx context.Context, acct tx.Account, deadline time.Time) (string, error)
}

// KeyGenerator creates API key pairs. With a seed the pair is deterministic.
type KeyGenerator interface {
	GenerateAPIKey(ctx context.Context, seed mo.Option[string]) (core.APIKey, error)
}

// Require reports whether b can sign transactions of txType.
func Require(b Backend, txType core.TxType) error {
	var ok bool
	switch txType {
	case core.TxTypeCreateOrder:
		_, ok = b.(CreateOrderSigner)
	case core.TxTypeCancelOrder:
		_, ok = b.(CancelOrderSigner)
	case core.TxTypeCancelAllOrders:
		_, ok = b.(CancelAllOrdersSigner)
	case core.TxTypeTransfer:
		_, ok = b.(TransferSigner)
	case core.TxTypeWithdraw:
		_, ok = b.(WithdrawSigner)
	case core.TxTypeCreateSubAccount:
		_, ok = b.(CreateSubAccountSigner)
	case core.TxTypeModifyOrder:
		_, ok = b.(ModifyOrderSigner)
	case core.TxTypeChangePubKey:
		_, ok = b.(ChangePubKeySigner)
	case core.TxTypeUpdateLeverage:
		_, ok = b.(UpdateLeverageSigner)
	}
	if !ok {
		return &core.SignerCapabilityError{Op: txType.String(), Backend: b.Name()}
	}
	return nil
}

// Sign dispatches t to the matching capability of b.
func Sign(ctx context.Context, b Backend, t tx.Tx) (string, error) {
	if err := Require(b, t.Type()); err != nil {
		return "", err
	}
	switch v := t.(type) {
	case tx.CreateOrder:
		return b.(CreateOrderSigner).SignCreateOrder(ctx, v)
	case tx.CancelOrder:
		return b.(CancelOrderSigner).SignCancelOrder(ctx, v)
	case tx.CancelAllOrders:
		return b.(CancelAllOrdersSigner).SignCancelAllOrders(ctx, v)
	case tx.Transfer:
		return b.(TransferSigner).SignTransfer(ctx, v)
	case tx.Withdraw:
		return b.(WithdrawSigner).SignWithdraw(ctx, v)
	case tx.CreateSubAccount:
		return b.(CreateSubAccountSigner).SignCreateSubAccount(ctx, v)
	case tx.ModifyOrder:
		return b.(ModifyOrderSigner).SignModifyOrder(ctx, v)
	case tx.ChangePubKey:
		return b.(ChangePubKeySigner).SignChangePubKey(ctx, v)
	case tx.UpdateLeverage:
		return b.(UpdateLeverageSigner).SignUpdateLeverage(ctx, v)
	}
	return "", &core.SignerCapabilityError{Op: t.Type().String(), Backend: b.Name()}
}

// CreateAuthToken fails with a capability error when b cannot mint tokens.
func CreateAuthToken(ctx context.Context, b Backend, acct tx.Account, deadline time.Time) (string, error) {
	c, ok := b.(AuthTokenCreator)
	if !ok {
		return "", &core.SignerCapabilityError{Op: "create_auth_token", Backend: b.Name()}
	}
	return c.CreateAuthToken(ctx, acct, deadline)
}

func GenerateAPIKey(ctx context.Context, b Backend, seed mo.Option[string]) (core.APIKey, error) {
	g, ok := b.(KeyGenerator)
	if !ok {
		return core.APIKey{}, &core.SignerCapabilityError{Op: "generate_api_key", Backend: b.Name()}
	}
	return g.GenerateAPIKey(ctx, seed)
}
