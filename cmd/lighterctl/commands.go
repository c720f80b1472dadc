package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	"github.com/specialjp/lighter-ts-sub000/internal/client"
	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/signer"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

type command struct {
	help        string
	needsClient bool
	run         func(ctx context.Context, a *app, args []string) (string, error)
}

var commands = map[string]command{
	"check":      {"validate config and signer without sending anything", true, runCheck},
	"order":      {"create a limit or trigger order", true, runOrder},
	"market":     {"create a market order bounded by max slippage", true, runMarket},
	"cancel":     {"cancel one order", true, runCancel},
	"cancel-all": {"cancel, schedule or abort cancel of all orders", true, runCancelAll},
	"modify":     {"modify a resting order", true, runModify},
	"transfer":   {"transfer USDC to another account", true, runTransfer},
	"withdraw":   {"withdraw USDC to L1", true, runWithdraw},
	"leverage":   {"update leverage for one market", true, runLeverage},
	"close-all":  {"close every open position with reduce-only market orders", true, runCloseAll},
	"wait":       {"wait for a transaction to become final", true, runWait},
	"pending":    {"list journaled transactions still pending", true, runPending},
	"token":      {"create an auth token", true, runToken},
	"keygen":     {"generate an API key pair", false, runKeygen},
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// nonceFlag is -nonce; negative means draw from the provider.
func nonceFlag(fs *flag.FlagSet) *int64 {
	return fs.Int64("nonce", -1, "explicit nonce (default: fetch)")
}

func nonceOption(n int64) mo.Option[int64] {
	if n < 0 {
		return mo.None[int64]()
	}
	return mo.Some(n)
}

func parseSide(s string) (core.Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "bid", "long":
		return core.Bid, nil
	case "sell", "ask", "short":
		return core.Ask, nil
	}
	return 0, core.Invalid("side", "must be buy or sell")
}

func parseOrderType(s string) (core.OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "limit":
		return core.OrderTypeLimit, nil
	case "market":
		return core.OrderTypeMarket, nil
	case "stop-loss":
		return core.OrderTypeStopLoss, nil
	case "stop-loss-limit":
		return core.OrderTypeStopLossLimit, nil
	case "take-profit":
		return core.OrderTypeTakeProfit, nil
	case "take-profit-limit":
		return core.OrderTypeTakeProfitLimit, nil
	case "twap":
		return core.OrderTypeTWAP, nil
	}
	return 0, core.Invalid("type", "unknown order type "+strconv.Quote(s))
}

func parseTimeInForce(s string) (core.TimeInForce, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ioc":
		return core.ImmediateOrCancel, nil
	case "gtt", "gtc":
		return core.GoodTillTime, nil
	case "fok":
		return core.FillOrKill, nil
	case "post-only":
		return core.PostOnly, nil
	}
	return 0, core.Invalid("tif", "must be ioc, gtt, fok or post-only")
}

func parseCancelAllTIF(s string) (core.CancelAllTimeInForce, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "immediate":
		return core.CancelAllImmediate, nil
	case "scheduled":
		return core.CancelAllScheduled, nil
	case "abort":
		return core.CancelAllAbort, nil
	}
	return 0, core.Invalid("mode", "must be immediate, scheduled or abort")
}

func parseMarginMode(s string) (core.MarginMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cross":
		return core.MarginCross, nil
	case "isolated":
		return core.MarginIsolated, nil
	}
	return 0, core.Invalid("margin", "must be cross or isolated")
}

func market(v int) (uint8, error) {
	if v < 0 || v > 255 {
		return 0, core.Invalid("market", "must be between 0 and 255")
	}
	return uint8(v), nil
}

func submitted(t tx.Tx, hash string) string {
	return fmt.Sprintf("tx=%s nonce=%d hash=%s", t.Type(), t.NonceValue(), hash)
}

func runCheck(ctx context.Context, a *app, _ []string) (string, error) {
	if err := a.client.CheckClient(); err != nil {
		return "", err
	}
	b := a.client.Backend()
	if !b.Ready() {
		if err := b.Initialize(ctx); err != nil {
			return "", err
		}
	}
	acct := a.client.Account()
	return fmt.Sprintf("network=%s backend=%s account=%d api_key=%d", a.cfg.Network, b.Name(), acct.AccountIndex, acct.APIKeyIndex), nil
}

func runOrder(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("order")
	mkt := fs.Int("market", 0, "market index")
	side := fs.String("side", "", "buy or sell")
	amount := fs.Int64("amount", 0, "base amount (smallest unit)")
	price := fs.Int64("price", 0, "price (smallest unit)")
	orderType := fs.String("type", "limit", "limit, market, stop-loss, stop-loss-limit, take-profit, take-profit-limit, twap")
	tif := fs.String("tif", "gtt", "ioc, gtt, fok or post-only")
	trigger := fs.Int64("trigger", 0, "trigger price")
	reduceOnly := fs.Bool("reduce-only", false, "reduce only")
	clientIndex := fs.Int64("client-index", 0, "client order index (default: now ms)")
	expiry := fs.Int64("expiry", 0, "absolute expiry in ms (default: venue default)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	m, err := market(*mkt)
	if err != nil {
		return "", err
	}
	s, err := parseSide(*side)
	if err != nil {
		return "", err
	}
	ot, err := parseOrderType(*orderType)
	if err != nil {
		return "", err
	}
	t, err := parseTimeInForce(*tif)
	if err != nil {
		return "", err
	}
	p := core.CreateOrderParams{
		MarketIndex:      m,
		ClientOrderIndex: *clientIndex,
		BaseAmount:       *amount,
		Price:            *price,
		Side:             s,
		OrderType:        ot,
		TimeInForce:      t,
		ReduceOnly:       *reduceOnly,
		TriggerPrice:     *trigger,
	}
	if p.ClientOrderIndex == 0 {
		p.ClientOrderIndex = time.Now().UnixMilli()
	}
	if *expiry != 0 {
		p.Expiry = mo.Some(*expiry)
	}
	order, hash, err := a.client.CreateOrder(ctx, p)
	if err != nil {
		return "", err
	}
	return submitted(order, hash), nil
}

func runMarket(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("market")
	mkt := fs.Int("market", 0, "market index")
	side := fs.String("side", "", "buy or sell")
	amount := fs.Int64("amount", 0, "base amount (smallest unit)")
	ideal := fs.Int64("ideal-price", 0, "reference price")
	slippage := fs.String("slippage", "", "max slippage fraction (default from config)")
	reduceOnly := fs.Bool("reduce-only", false, "reduce only")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	m, err := market(*mkt)
	if err != nil {
		return "", err
	}
	s, err := parseSide(*side)
	if err != nil {
		return "", err
	}
	slip := a.cfg.Orders.DefaultSlippage.Decimal
	if *slippage != "" {
		if slip, err = decimal.NewFromString(*slippage); err != nil {
			return "", core.Invalid("slippage", err.Error())
		}
	}
	idealPrice := mo.None[int64]()
	if *ideal > 0 {
		idealPrice = mo.Some(*ideal)
	}
	order, hash, err := a.client.CreateMarketOrderMaxSlippage(ctx, client.MaxSlippageParams{
		MarketIndex:      m,
		ClientOrderIndex: time.Now().UnixMilli(),
		BaseAmount:       *amount,
		Side:             s,
		ReduceOnly:       *reduceOnly,
		IdealPrice:       idealPrice,
		MaxSlippage:      slip,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s price=%d", submitted(order, hash), order.Price), nil
}

func runCancel(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("cancel")
	mkt := fs.Int("market", 0, "market index")
	orderIndex := fs.Int64("order", 0, "order index")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	m, err := market(*mkt)
	if err != nil {
		return "", err
	}
	t, hash, err := a.client.CancelOrder(ctx, core.CancelOrderParams{MarketIndex: m, OrderIndex: *orderIndex})
	if err != nil {
		return "", err
	}
	return submitted(t, hash), nil
}

func runCancelAll(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("cancel-all")
	mode := fs.String("mode", "immediate", "immediate, scheduled or abort")
	in := fs.Duration("in", 0, "delay for scheduled mode")
	n := nonceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	tif, err := parseCancelAllTIF(*mode)
	if err != nil {
		return "", err
	}
	var at int64
	if tif == core.CancelAllScheduled {
		if *in <= 0 {
			return "", core.Invalid("in", "is required for scheduled mode")
		}
		at = time.Now().Add(*in).UnixMilli()
	}
	t, hash, err := a.client.CancelAllOrders(ctx, tif, at, nonceOption(*n))
	if err != nil {
		return "", err
	}
	return submitted(t, hash), nil
}

func runModify(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("modify")
	mkt := fs.Int("market", 0, "market index")
	orderIndex := fs.Int64("order", 0, "order index")
	amount := fs.Int64("amount", 0, "new base amount")
	price := fs.Int64("price", 0, "new price")
	trigger := fs.Int64("trigger", 0, "new trigger price")
	n := nonceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	m, err := market(*mkt)
	if err != nil {
		return "", err
	}
	t, hash, err := a.client.ModifyOrder(ctx, core.ModifyOrderParams{
		MarketIndex:  m,
		OrderIndex:   *orderIndex,
		BaseAmount:   *amount,
		Price:        *price,
		TriggerPrice: *trigger,
	}, nonceOption(*n))
	if err != nil {
		return "", err
	}
	return submitted(t, hash), nil
}

func runTransfer(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("transfer")
	to := fs.Int64("to", -1, "destination account index")
	amount := fs.Int64("amount", 0, "USDC amount (smallest unit)")
	n := nonceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	t, hash, err := a.client.Transfer(ctx, *to, *amount, nonceOption(*n))
	if err != nil {
		return "", err
	}
	return submitted(t, hash), nil
}

func runWithdraw(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("withdraw")
	amount := fs.Int64("amount", 0, "USDC amount (smallest unit)")
	n := nonceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	t, hash, err := a.client.Withdraw(ctx, *amount, nonceOption(*n))
	if err != nil {
		return "", err
	}
	return submitted(t, hash), nil
}

func runLeverage(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("leverage")
	mkt := fs.Int("market", 0, "market index")
	leverage := fs.String("leverage", "", "leverage multiple, e.g. 5")
	margin := fs.String("margin", "cross", "cross or isolated")
	n := nonceFlag(fs)
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	m, err := market(*mkt)
	if err != nil {
		return "", err
	}
	mode, err := parseMarginMode(*margin)
	if err != nil {
		return "", err
	}
	lev, err := decimal.NewFromString(*leverage)
	if err != nil {
		return "", core.Invalid("leverage", "must be a number")
	}
	fraction, err := tx.LeverageToFraction(lev)
	if err != nil {
		return "", err
	}
	t, hash, err := a.client.UpdateLeverage(ctx, m, mode, fraction, nonceOption(*n))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s fraction=%d", submitted(t, hash), fraction), nil
}

func runCloseAll(ctx context.Context, a *app, _ []string) (string, error) {
	res, err := a.client.CloseAllPositions(ctx)
	if err != nil {
		return "", err
	}
	detail := fmt.Sprintf("closed=%d failed=%d", len(res.Hashes), len(res.Errors))
	if len(res.Errors) > 0 {
		return "", fmt.Errorf("%s: %s", detail, strings.Join(res.Errors, "; "))
	}
	return detail, nil
}

func runWait(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("wait")
	maxWait := fs.Duration("max-wait", time.Duration(a.cfg.Orders.MaxWaitSec)*time.Second, "max wait")
	poll := fs.Duration("poll", time.Duration(a.cfg.Orders.PollIntervalMs)*time.Millisecond, "poll interval")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", core.Invalid("hash", "exactly one transaction hash is required")
	}
	rec, err := a.client.WaitForTransaction(ctx, fs.Arg(0), *maxWait, *poll)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("hash=%s status=%s block_height=%d", rec.Hash, rec.Status, rec.BlockHeight), nil
}

func runPending(ctx context.Context, a *app, _ []string) (string, error) {
	if a.journal == nil {
		return "", &core.ConfigError{Field: "state.journal", Err: errors.New("journal is disabled")}
	}
	acct := a.client.Account()
	entries, err := a.journal.Pending(ctx, acct.AccountIndex, acct.APIKeyIndex)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		part := fmt.Sprintf("%d:%s", e.Nonce, e.Hash)
		if e.TimedOutAt != nil {
			part += "(timed_out)"
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("pending=%d %s", len(entries), strings.Join(parts, " ")), nil
}

func runToken(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("token")
	ttl := fs.Duration("ttl", 0, "token lifetime (default 10m, max 7d)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	expiry := mo.None[time.Duration]()
	if *ttl != 0 {
		expiry = mo.Some(*ttl)
	}
	return a.client.CreateAuthTokenWithExpiry(ctx, expiry)
}

func runKeygen(ctx context.Context, a *app, args []string) (string, error) {
	fs := newFlagSet("keygen")
	seed := fs.String("seed", "", "deterministic seed (default: random)")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	backend, err := client.NewBackend(a.cfg.SignerConfig(), a.logger)
	if err != nil {
		return "", err
	}
	s := mo.None[string]()
	if *seed != "" {
		s = mo.Some(*seed)
	}
	key, err := signer.GenerateAPIKey(ctx, backend, s)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("public_key=%s private_key=%s", key.PublicKey, key.PrivateKey), nil
}
