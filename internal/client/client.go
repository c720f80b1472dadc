// Package client is the signer client: it draws a nonce, builds the
// canonical transaction, has the signer backend sign it and submits it to
// the venue. Every transaction operation returns the built transaction, the
// venue hash (empty on failure) and an error.
package client

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/mo"

	"github.com/specialjp/lighter-ts-sub000/internal/alert"
	"github.com/specialjp/lighter-ts-sub000/internal/confirm"
	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/exchange"
	"github.com/specialjp/lighter-ts-sub000/internal/nonce"
	"github.com/specialjp/lighter-ts-sub000/internal/safety"
	"github.com/specialjp/lighter-ts-sub000/internal/signer"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

// Journal records submissions and their final outcome.
type Journal interface {
	TxSubmitted(ctx context.Context, hash string, t tx.Tx, txInfo string) error
	confirm.Observer
}

type Options struct {
	// Venue is required.
	Venue exchange.Venue
	// Backend overrides the backend derived from the config.
	Backend signer.Backend
	// Nonces defaults to asking the venue for every transaction.
	Nonces  nonce.Provider
	Breaker *safety.Breaker
	Journal Journal
	Alerter alert.Alerter
	Logger  *slog.Logger
	// CloseSlippage bounds the price of the market orders CloseAllPositions
	// sends, relative to each position's mark price. Defaults to 5%.
	CloseSlippage mo.Option[float64]
}

type Client struct {
	cfg       SignerConfig
	account   tx.Account
	key       nonce.Key
	venue     exchange.Venue
	submitter exchange.Submitter
	nonces    nonce.Provider
	backend   signer.Backend
	poller    *confirm.Poller
	journal   Journal
	alerter   alert.Alerter
	logger    *slog.Logger
	tokens    *cache.Cache

	closeSlippage float64
	now           func() time.Time
}

func New(cfg SignerConfig, opts Options) (*Client, error) {
	if err := cfg.CheckClient(); err != nil {
		return nil, &core.ConfigError{Field: "signer", Err: err}
	}
	if opts.Venue == nil {
		return nil, &core.ConfigError{Field: "venue", Err: errors.New("is required")}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend := opts.Backend
	if backend == nil {
		var err error
		if backend, err = NewBackend(cfg, logger); err != nil {
			return nil, err
		}
	}
	nonces := opts.Nonces
	if nonces == nil {
		nonces = nonce.Direct{Source: opts.Venue}
	}
	var submitter exchange.Submitter = opts.Venue
	if opts.Breaker != nil {
		opts.Breaker.SetAlerter(opts.Alerter)
		submitter = safety.NewGuardedSubmitter(opts.Venue, opts.Breaker)
	}

	c := &Client{
		cfg:           cfg,
		account:       tx.Account{AccountIndex: cfg.AccountIndex, APIKeyIndex: uint8(cfg.APIKeyIndex)},
		key:           nonce.Key{AccountIndex: cfg.AccountIndex, APIKeyIndex: uint8(cfg.APIKeyIndex)},
		venue:         opts.Venue,
		submitter:     submitter,
		nonces:        nonces,
		backend:       backend,
		journal:       opts.Journal,
		alerter:       opts.Alerter,
		logger:        logger.With("account_index", cfg.AccountIndex, "api_key_index", cfg.APIKeyIndex),
		tokens:        cache.New(DefaultAuthTokenTTL, time.Minute),
		closeSlippage: opts.CloseSlippage.OrElse(defaultCloseSlippage),
		now:           time.Now,
	}
	c.poller = confirm.NewPoller(opts.Venue, observerFunc(c.txFinal), c.logger)
	return c, nil
}

func (c *Client) Backend() signer.Backend { return c.backend }

func (c *Client) Account() tx.Account { return c.account }

// CheckClient re-validates the config the client was built from.
func (c *Client) CheckClient() error { return c.cfg.CheckClient() }

// ensureReady initializes the backend on first use.
func (c *Client) ensureReady(ctx context.Context) error {
	if c.backend.Ready() {
		return nil
	}
	return c.backend.Initialize(ctx)
}

// nextNonce prefers an explicit override. The returned bool reports whether
// the value came from the provider and must be settled on failure.
func (c *Client) nextNonce(ctx context.Context, override mo.Option[int64]) (int64, bool, error) {
	if n, ok := override.Get(); ok {
		if n < 0 {
			return 0, false, core.Invalid("nonce", "must be >= 0")
		}
		return n, false, nil
	}
	n, err := c.nonces.Next(ctx, c.key)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// settleNonces hands drawn nonces back when the venue never took them and
// drops the cached batch when it may have.
func (c *Client) settleNonces(err error, sent bool, drawn ...int64) {
	if len(drawn) == 0 {
		return
	}
	if !sent || venueRefused(err) {
		for _, n := range drawn {
			c.nonces.Release(c.key, n)
		}
		return
	}
	c.nonces.Invalidate(c.key)
}

// venueRefused reports whether a failed send certainly left the nonce unused:
// it was stopped locally or refused for a reason other than the nonce.
func venueRefused(err error) bool {
	switch {
	case errors.Is(err, core.ErrNonce), errors.Is(err, core.ErrOutcomeUnknown):
		return false
	case errors.Is(err, safety.ErrCircuitOpen), errors.Is(err, core.ErrInvalid):
		return true
	case errors.Is(err, core.ErrRejected), errors.Is(err, core.ErrBadRequest):
		return true
	}
	return false
}

// submit runs the build → nonce → sign → send pipeline for one transaction.
// The capability check and a trial build run first so an unsupported or
// malformed operation never consumes a nonce or reaches the network.
func submit[T tx.Tx](ctx context.Context, c *Client, txType core.TxType, override mo.Option[int64], build func(acct tx.Account, nonce int64) (T, error)) (T, string, error) {
	var zero T
	if err := signer.Require(c.backend, txType); err != nil {
		return zero, "", err
	}
	if _, err := build(c.account, 0); err != nil {
		return zero, "", err
	}
	if err := c.ensureReady(ctx); err != nil {
		return zero, "", err
	}
	n, drawn, err := c.nextNonce(ctx, override)
	if err != nil {
		return zero, "", err
	}
	fail := func(t T, err error, sent bool) (T, string, error) {
		if drawn {
			c.settleNonces(err, sent, n)
		}
		c.logger.Warn("tx not submitted", "event", "tx_submit_failed", "tx_type", txType.String(), "nonce", n, "err", err)
		return t, "", err
	}

	t, err := build(c.account, n)
	if err != nil {
		return fail(zero, err, false)
	}
	txInfo, err := signer.Sign(ctx, c.backend, t)
	if err != nil {
		return fail(t, err, false)
	}
	hash, err := c.submitter.SendTx(ctx, txType, txInfo)
	if err != nil {
		return fail(t, err, true)
	}
	c.logger.Info("tx submitted", "event", "tx_submitted", "tx_type", txType.String(), "nonce", n, "hash", hash)
	c.recordSubmitted(ctx, hash, t, txInfo)
	return t, hash, nil
}

func (c *Client) recordSubmitted(ctx context.Context, hash string, t tx.Tx, txInfo string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.TxSubmitted(ctx, hash, t, txInfo); err != nil {
		c.logger.Warn("journal write failed", "event", "journal_write_failed", "hash", hash, "err", err)
	}
}

// WaitForTransaction polls until hash is confirmed or failed, or maxWait
// elapses. Zero durations take the poller defaults.
func (c *Client) WaitForTransaction(ctx context.Context, hash string, maxWait, pollInterval time.Duration) (core.TxRecord, error) {
	return c.poller.Wait(ctx, hash, maxWait, pollInterval)
}

type observerFunc func(ctx context.Context, rec core.TxRecord, state confirm.State)

func (f observerFunc) TxFinal(ctx context.Context, rec core.TxRecord, state confirm.State) {
	f(ctx, rec, state)
}

func (c *Client) txFinal(ctx context.Context, rec core.TxRecord, state confirm.State) {
	if c.journal != nil {
		c.journal.TxFinal(ctx, rec, state)
	}
	if state == confirm.StateFailed && c.alerter != nil {
		c.alerter.Important("tx_failed", map[string]string{
			"hash":         rec.Hash,
			"tx_type":      rec.Type.String(),
			"block_height": strconv.FormatInt(rec.BlockHeight, 10),
		})
	}
}
