package client

import (
	"context"
	"fmt"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/signer"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

const defaultCloseSlippage = 0.05

// MaxSlippageParams describe a market order whose worst acceptable price is
// derived from a reference price.
type MaxSlippageParams struct {
	MarketIndex      uint8
	ClientOrderIndex int64
	BaseAmount       int64
	Side             core.Side
	ReduceOnly       bool
	// IdealPrice is the reference price, e.g. best bid/ask or mark. Required.
	IdealPrice mo.Option[int64]
	// MaxSlippage is a fraction in [0, 1).
	MaxSlippage decimal.Decimal
}

// CloseResult aggregates CloseAllPositions. Errors holds one entry per
// position that could not be closed, prefixed with its market.
type CloseResult struct {
	Txs    []tx.CreateOrder
	Hashes []string
	Errors []string
}

func (c *Client) CreateOrder(ctx context.Context, p core.CreateOrderParams) (tx.CreateOrder, string, error) {
	return submit(ctx, c, core.TxTypeCreateOrder, mo.None[int64](), func(acct tx.Account, n int64) (tx.CreateOrder, error) {
		return tx.BuildCreateOrder(acct, p, n)
	})
}

// CreateMarketOrder sends an immediate-or-cancel market order. Price is the
// worst price the caller accepts.
func (c *Client) CreateMarketOrder(ctx context.Context, p core.MarketOrderParams) (tx.CreateOrder, string, error) {
	return c.CreateOrder(ctx, marketOrder(p))
}

func marketOrder(p core.MarketOrderParams) core.CreateOrderParams {
	return core.CreateOrderParams{
		MarketIndex:      p.MarketIndex,
		ClientOrderIndex: p.ClientOrderIndex,
		BaseAmount:       p.BaseAmount,
		Price:            p.Price,
		Side:             p.Side,
		OrderType:        core.OrderTypeMarket,
		TimeInForce:      core.ImmediateOrCancel,
		ReduceOnly:       p.ReduceOnly,
		TriggerPrice:     core.NilTriggerPrice,
		Expiry:           mo.Some(core.NoOrderExpiry),
	}
}

// CreateMarketOrderMaxSlippage sends a market order priced at most
// MaxSlippage away from IdealPrice: below it for asks, above it for bids.
func (c *Client) CreateMarketOrderMaxSlippage(ctx context.Context, p MaxSlippageParams) (tx.CreateOrder, string, error) {
	ideal, ok := p.IdealPrice.Get()
	if !ok {
		return tx.CreateOrder{}, "", core.Invalid("ideal_price", "is required")
	}
	price, err := SlippagePrice(ideal, p.MaxSlippage, p.Side)
	if err != nil {
		return tx.CreateOrder{}, "", err
	}
	return c.CreateMarketOrder(ctx, core.MarketOrderParams{
		MarketIndex:      p.MarketIndex,
		ClientOrderIndex: p.ClientOrderIndex,
		BaseAmount:       p.BaseAmount,
		Price:            price,
		Side:             p.Side,
		ReduceOnly:       p.ReduceOnly,
	})
}

// SlippagePrice is the worst acceptable execution price for side. Asks round
// down and bids round up so the bound is never tighter than requested.
func SlippagePrice(ideal int64, slippage decimal.Decimal, side core.Side) (int64, error) {
	if ideal <= 0 {
		return 0, core.Invalid("ideal_price", "must be > 0")
	}
	if slippage.IsNegative() || slippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return 0, core.Invalid("max_slippage", "must be in [0, 1)")
	}
	base := decimal.NewFromInt(ideal)
	var price decimal.Decimal
	if side == core.Ask {
		price = base.Mul(decimal.NewFromInt(1).Sub(slippage)).Floor()
	} else {
		price = base.Mul(decimal.NewFromInt(1).Add(slippage)).Ceil()
	}
	if price.LessThan(decimal.NewFromInt(1)) {
		return 0, core.Invalid("max_slippage", "leaves no positive price")
	}
	return price.IntPart(), nil
}

func (c *Client) CancelOrder(ctx context.Context, p core.CancelOrderParams) (tx.CancelOrder, string, error) {
	return submit(ctx, c, core.TxTypeCancelOrder, mo.None[int64](), func(acct tx.Account, n int64) (tx.CancelOrder, error) {
		return tx.BuildCancelOrder(acct, p, n)
	})
}

// CancelAllOrders cancels every open order now, schedules it for at (ms), or
// aborts a scheduled cancel. at is ignored for CancelAllImmediate.
func (c *Client) CancelAllOrders(ctx context.Context, tif core.CancelAllTimeInForce, at int64, nonce mo.Option[int64]) (tx.CancelAllOrders, string, error) {
	return submit(ctx, c, core.TxTypeCancelAllOrders, nonce, func(acct tx.Account, n int64) (tx.CancelAllOrders, error) {
		return tx.BuildCancelAllOrders(acct, tif, at, n)
	})
}

func (c *Client) ModifyOrder(ctx context.Context, p core.ModifyOrderParams, nonce mo.Option[int64]) (tx.ModifyOrder, string, error) {
	return submit(ctx, c, core.TxTypeModifyOrder, nonce, func(acct tx.Account, n int64) (tx.ModifyOrder, error) {
		return tx.BuildModifyOrder(acct, p, n)
	})
}

// CreateOrders signs every order with its own nonce and submits them in one
// batch. Hashes come back in input order.
func (c *Client) CreateOrders(ctx context.Context, params []core.CreateOrderParams) ([]tx.CreateOrder, []string, error) {
	if len(params) == 0 {
		return nil, nil, core.Invalid("orders", "is empty")
	}
	if len(params) > core.MaxBatchSize {
		return nil, nil, core.Invalid("orders", fmt.Sprintf("batch of %d exceeds %d", len(params), core.MaxBatchSize))
	}
	if err := signer.Require(c.backend, core.TxTypeCreateOrder); err != nil {
		return nil, nil, err
	}
	for i, p := range params {
		if _, err := tx.BuildCreateOrder(c.account, p, 0); err != nil {
			return nil, nil, fmt.Errorf("order %d: %w", i, err)
		}
	}
	if err := c.ensureReady(ctx); err != nil {
		return nil, nil, err
	}

	txs := make([]tx.CreateOrder, 0, len(params))
	batch := make([]core.SignedTx, 0, len(params))
	drawn := make([]int64, 0, len(params))
	fail := func(err error, sent bool) ([]tx.CreateOrder, []string, error) {
		c.settleNonces(err, sent, drawn...)
		c.logger.Warn("batch not submitted", "event", "tx_batch_submit_failed", "size", len(params), "err", err)
		return txs, nil, err
	}
	for i, p := range params {
		n, err := c.nonces.Next(ctx, c.key)
		if err != nil {
			return fail(err, false)
		}
		drawn = append(drawn, n)
		t, err := tx.BuildCreateOrder(c.account, p, n)
		if err != nil {
			return fail(fmt.Errorf("order %d: %w", i, err), false)
		}
		txInfo, err := signer.Sign(ctx, c.backend, t)
		if err != nil {
			return fail(fmt.Errorf("order %d: %w", i, err), false)
		}
		txs = append(txs, t)
		batch = append(batch, core.SignedTx{Type: core.TxTypeCreateOrder, TxInfo: txInfo})
	}

	hashes, err := c.submitter.SendTxBatch(ctx, c.account.AccountIndex, c.account.APIKeyIndex, batch)
	if err != nil {
		return fail(err, true)
	}
	if len(hashes) != len(batch) {
		// The venue answered, so the nonces count as spent.
		return fail(&core.NetworkError{Op: "send batch", Err: fmt.Errorf("%w: %d hashes for %d transactions", core.ErrOutcomeUnknown, len(hashes), len(batch))}, true)
	}
	c.logger.Info("batch submitted", "event", "tx_batch_submitted", "size", len(batch), "first_nonce", txs[0].Nonce)
	for i, t := range txs {
		c.recordSubmitted(ctx, hashes[i], t, batch[i].TxInfo)
	}
	return txs, hashes, nil
}

// CloseAllPositions sends a reduce-only market order against every open
// position. One position failing does not stop the others; its error is
// reported in the result instead.
func (c *Client) CloseAllPositions(ctx context.Context) (CloseResult, error) {
	positions, err := c.venue.Positions(ctx, c.account.AccountIndex)
	if err != nil {
		return CloseResult{}, err
	}
	slippage := decimal.NewFromFloat(c.closeSlippage)
	clientIndex := c.now().UnixMilli()

	var res CloseResult
	for i, pos := range positions {
		if pos.Size == 0 {
			continue
		}
		size := pos.Size
		if size < 0 {
			size = -size
		}
		t, hash, err := c.closePosition(ctx, pos, size, slippage, clientIndex+int64(i))
		if err != nil {
			c.logger.Warn("position not closed", "event", "close_position_failed", "market_index", pos.MarketIndex, "err", err)
			res.Errors = append(res.Errors, fmt.Sprintf("market %d: %v", pos.MarketIndex, err))
			continue
		}
		res.Txs = append(res.Txs, t)
		res.Hashes = append(res.Hashes, hash)
	}
	c.logger.Info("close all positions done", "event", "close_all_positions", "closed", len(res.Txs), "failed", len(res.Errors))
	return res, nil
}

func (c *Client) closePosition(ctx context.Context, pos core.Position, size int64, slippage decimal.Decimal, clientIndex int64) (tx.CreateOrder, string, error) {
	if pos.MarkPrice <= 0 {
		return tx.CreateOrder{}, "", core.Invalid("mark_price", "is unavailable")
	}
	return c.CreateMarketOrderMaxSlippage(ctx, MaxSlippageParams{
		MarketIndex:      pos.MarketIndex,
		ClientOrderIndex: clientIndex,
		BaseAmount:       size,
		Side:             pos.Side.Opposite(),
		ReduceOnly:       true,
		IdealPrice:       mo.Some(pos.MarkPrice),
		MaxSlippage:      slippage,
	})
}
