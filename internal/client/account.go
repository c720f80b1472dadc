package client

import (
	"context"
	"time"

	"github.com/samber/mo"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/signer"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

const (
	// DefaultAuthTokenTTL applies when no expiry is given.
	DefaultAuthTokenTTL = 10 * time.Minute
	// MaxAuthTokenTTL is the longest lifetime the venue accepts.
	MaxAuthTokenTTL = 7 * 24 * time.Hour
	// A cached token is reused only while it stays valid for this long.
	authTokenMinRemaining = time.Minute
)

// Transfer moves amount (USDC, smallest unit) to another account.
func (c *Client) Transfer(ctx context.Context, toAccountIndex, amount int64, nonce mo.Option[int64]) (tx.Transfer, string, error) {
	return submit(ctx, c, core.TxTypeTransfer, nonce, func(acct tx.Account, n int64) (tx.Transfer, error) {
		return tx.BuildTransfer(acct, toAccountIndex, amount, n)
	})
}

// UpdateLeverage sets the initial margin fraction (basis points, 10000 = 1x)
// of one market. tx.LeverageToFraction converts from a leverage multiple.
func (c *Client) UpdateLeverage(ctx context.Context, marketIndex uint8, mode core.MarginMode, fraction uint16, nonce mo.Option[int64]) (tx.UpdateLeverage, string, error) {
	return submit(ctx, c, core.TxTypeUpdateLeverage, nonce, func(acct tx.Account, n int64) (tx.UpdateLeverage, error) {
		return tx.BuildUpdateLeverage(acct, marketIndex, mode, fraction, n)
	})
}

func (c *Client) Withdraw(ctx context.Context, amount int64, nonce mo.Option[int64]) (tx.Withdraw, string, error) {
	return submit(ctx, c, core.TxTypeWithdraw, nonce, func(acct tx.Account, n int64) (tx.Withdraw, error) {
		return tx.BuildWithdraw(acct, amount, n)
	})
}

func (c *Client) CreateSubAccount(ctx context.Context, nonce mo.Option[int64]) (tx.CreateSubAccount, string, error) {
	return submit(ctx, c, core.TxTypeCreateSubAccount, nonce, func(acct tx.Account, n int64) (tx.CreateSubAccount, error) {
		return tx.BuildCreateSubAccount(acct, n)
	})
}

// ChangeAPIKey registers pubKey for this client's api key index.
func (c *Client) ChangeAPIKey(ctx context.Context, pubKey string, nonce mo.Option[int64]) (tx.ChangePubKey, string, error) {
	return submit(ctx, c, core.TxTypeChangePubKey, nonce, func(acct tx.Account, n int64) (tx.ChangePubKey, error) {
		return tx.BuildChangePubKey(acct, pubKey, n)
	})
}

// CreateAuthTokenWithExpiry mints a fresh token valid for expiry, or for
// DefaultAuthTokenTTL when expiry is None.
func (c *Client) CreateAuthTokenWithExpiry(ctx context.Context, expiry mo.Option[time.Duration]) (string, error) {
	ttl := expiry.OrElse(DefaultAuthTokenTTL)
	if ttl <= 0 || ttl > MaxAuthTokenTTL {
		return "", core.Invalid("expiry", "must be in (0, 7d]")
	}
	if err := c.ensureReady(ctx); err != nil {
		return "", err
	}
	return signer.CreateAuthToken(ctx, c.backend, c.account, c.now().Add(ttl))
}

// AuthToken returns a cached token while it has at least a minute left,
// minting a new DefaultAuthTokenTTL token otherwise.
func (c *Client) AuthToken(ctx context.Context) (string, error) {
	key := c.key.String()
	if v, ok := c.tokens.Get(key); ok {
		return v.(string), nil
	}
	token, err := c.CreateAuthTokenWithExpiry(ctx, mo.None[time.Duration]())
	if err != nil {
		return "", err
	}
	c.tokens.Set(key, token, DefaultAuthTokenTTL-authTokenMinRemaining)
	return token, nil
}

// ResetAuthToken forgets the cached token, e.g. after the venue refused it.
func (c *Client) ResetAuthToken() {
	c.tokens.Delete(c.key.String())
}

// GenerateAPIKey creates a key pair through the backend. With a seed the
// pair is deterministic.
func (c *Client) GenerateAPIKey(ctx context.Context, seed mo.Option[string]) (core.APIKey, error) {
	return signer.GenerateAPIKey(ctx, c.backend, seed)
}
