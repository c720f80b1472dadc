package lighter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/specialjp/lighter-ts-sub000/internal/alert"
	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

// Client talks to the venue's REST API and, when a websocket URL is
// configured, submits transactions over a persistent websocket with REST as
// fallback.
type Client struct {
	baseURL     string
	wsBaseURL   string
	httpClient  *http.Client
	logger      *slog.Logger
	wsKeepalive time.Duration
	wsDialTries int

	txMu   sync.Mutex
	txConn *txWSConn

	mu         sync.Mutex
	alerter    alert.Alerter
	wsDegraded bool
}

type Options struct {
	RestBaseURL    string
	WSBaseURL      string
	HTTPTimeoutSec int64
	WSKeepaliveSec int64
	WSDialAttempts int
	Logger         *slog.Logger
}

func NewClientWithOptions(opts Options) *Client {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	dialTries := opts.WSDialAttempts
	if dialTries <= 0 {
		dialTries = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(opts.RestBaseURL, "/"),
		wsBaseURL:   strings.TrimRight(opts.WSBaseURL, "/"),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		wsKeepalive: time.Duration(opts.WSKeepaliveSec) * time.Second,
		wsDialTries: dialTries,
	}
}

func (c *Client) Name() string { return "lighter" }

func (c *Client) SetAlerter(alerter alert.Alerter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerter = alerter
}

func (c *Client) alertImportant(event string, fields map[string]string) {
	c.mu.Lock()
	alerter := c.alerter
	c.mu.Unlock()
	if alerter == nil {
		return
	}
	alerter.Important(event, fields)
}

func (c *Client) markWSDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wsDegraded {
		return false
	}
	c.wsDegraded = true
	return true
}

func (c *Client) clearWSDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.wsDegraded {
		return false
	}
	c.wsDegraded = false
	return true
}

func (c *Client) Close() error {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	c.resetTxConn()
	return nil
}

func (c *Client) NextNonce(ctx context.Context, accountIndex int64, apiKeyIndex uint8) (int64, error) {
	params := url.Values{}
	params.Set("account_index", strconv.FormatInt(accountIndex, 10))
	params.Set("api_key_index", strconv.Itoa(int(apiKeyIndex)))
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/nextNonce", params, nil)
	if err != nil {
		return 0, err
	}
	var resp nonceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode nextNonce: %w", err)
	}
	if err := checkCode(resp.Code, ""); err != nil {
		return 0, err
	}
	return resp.Nonce, nil
}

// SendTx submits one signed transaction and returns its hash.
func (c *Client) SendTx(ctx context.Context, txType core.TxType, txInfo string) (string, error) {
	if txInfo == "" {
		return "", core.Invalid("tx_info", "is empty")
	}
	if c.wsBaseURL == "" {
		return c.sendTxREST(ctx, txType, txInfo)
	}
	hash, err := c.sendTxWS(ctx, txType, txInfo)
	if err == nil {
		if c.clearWSDegraded() {
			c.alertImportant("ws_tx_recovered", map[string]string{"tx_type": txType.String()})
		}
		return hash, nil
	}
	if !unsent(err) {
		return "", err
	}
	if c.markWSDegraded() {
		c.alertImportant("ws_tx_fallback_to_rest", map[string]string{
			"tx_type":  txType.String(),
			"ws_error": err.Error(),
		})
	}
	c.logger.Warn("websocket submission failed, using rest", "event", "ws_tx_fallback_to_rest", "tx_type", txType.String(), "err", err)
	return c.sendTxREST(ctx, txType, txInfo)
}

// SendTxBatch submits up to core.MaxBatchSize transactions; hashes come back
// in input order.
func (c *Client) SendTxBatch(ctx context.Context, accountIndex int64, apiKeyIndex uint8, batch []core.SignedTx) ([]string, error) {
	if err := validateBatch(batch); err != nil {
		return nil, err
	}
	if c.wsBaseURL != "" {
		hashes, err := c.sendTxBatchWS(ctx, accountIndex, apiKeyIndex, batch)
		if err == nil {
			c.clearWSDegraded()
			return hashes, nil
		}
		if !unsent(err) {
			return nil, err
		}
		if c.markWSDegraded() {
			c.alertImportant("ws_tx_fallback_to_rest", map[string]string{
				"tx_type":  "batch",
				"ws_error": err.Error(),
			})
		}
		c.logger.Warn("websocket batch failed, using rest", "event", "ws_tx_fallback_to_rest", "size", len(batch), "err", err)
	}
	return c.sendTxBatchREST(ctx, accountIndex, apiKeyIndex, batch)
}

// unsent reports whether a websocket submission failed before its frame was
// written, which is the only case where resending over REST is safe.
func unsent(err error) bool {
	return errors.Is(err, core.ErrNetwork) && !errors.Is(err, core.ErrOutcomeUnknown)
}

func validateBatch(batch []core.SignedTx) error {
	if len(batch) == 0 {
		return core.Invalid("transactions", "is empty")
	}
	if len(batch) > core.MaxBatchSize {
		return core.Invalid("transactions", fmt.Sprintf("has %d entries, limit is %d", len(batch), core.MaxBatchSize))
	}
	for i, item := range batch {
		if item.TxInfo == "" {
			return core.Invalid("transactions", fmt.Sprintf("entry %d has empty tx_info", i))
		}
	}
	return nil
}

func (c *Client) sendTxREST(ctx context.Context, txType core.TxType, txInfo string) (string, error) {
	params := url.Values{}
	params.Set("tx_type", strconv.Itoa(int(txType)))
	params.Set("tx_info", txInfo)
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/sendTx", params, nil)
	if err != nil {
		return "", err
	}
	var resp sendTxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode sendTx: %w", err)
	}
	if err := checkCode(resp.Code, resp.Message); err != nil {
		return "", err
	}
	if resp.hash() == "" {
		return "", fmt.Errorf("%w: sendTx returned no hash", core.ErrNetwork)
	}
	return resp.hash(), nil
}

func (c *Client) sendTxBatchREST(ctx context.Context, accountIndex int64, apiKeyIndex uint8, batch []core.SignedTx) ([]string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v1/sendTxBatch", nil, sendTxBatchRequest{
		AccountIndex: accountIndex,
		APIKeyIndex:  apiKeyIndex,
		Transactions: batch,
	})
	if err != nil {
		return nil, err
	}
	var resp sendTxBatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode sendTxBatch: %w", err)
	}
	if err := checkCode(resp.Code, resp.Message); err != nil {
		return nil, err
	}
	hashes := resp.hashes()
	if len(hashes) != len(batch) {
		return nil, fmt.Errorf("%w: sendTxBatch returned %d hashes for %d transactions", core.ErrNetwork, len(hashes), len(batch))
	}
	return hashes, nil
}

func (c *Client) GetTx(ctx context.Context, hash string) (core.TxRecord, error) {
	if hash == "" {
		return core.TxRecord{}, core.Invalid("hash", "is empty")
	}
	params := url.Values{}
	params.Set("by", "hash")
	params.Set("value", hash)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/tx", params, nil)
	if err != nil {
		return core.TxRecord{}, err
	}
	var resp txResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.TxRecord{}, fmt.Errorf("decode tx: %w", err)
	}
	if err := checkCode(resp.Code, resp.Message); err != nil {
		return core.TxRecord{}, err
	}
	rec := core.TxRecord{
		Hash:        resp.Hash,
		Status:      core.TxStatus(resp.Status),
		BlockHeight: resp.BlockHeight,
		Type:        core.TxType(resp.Type),
	}
	if rec.Hash == "" {
		rec.Hash = hash
	}
	if rec.Status == "" {
		rec.Status = core.TxPending
	}
	if resp.CreatedAt > 0 {
		rec.CreatedAt = unixAuto(resp.CreatedAt)
	}
	if resp.UpdatedAt > 0 {
		rec.UpdatedAt = unixAuto(resp.UpdatedAt)
	}
	return rec, nil
}

func (c *Client) Positions(ctx context.Context, accountIndex int64) ([]core.Position, error) {
	params := url.Values{}
	params.Set("by", "index")
	params.Set("value", strconv.FormatInt(accountIndex, 10))
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v1/account", params, nil)
	if err != nil {
		return nil, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if err := checkCode(resp.Code, ""); err != nil {
		return nil, err
	}
	var out []core.Position
	for _, acct := range resp.Accounts {
		if acct.Index != accountIndex {
			continue
		}
		for _, p := range acct.Positions {
			side := core.Bid
			if p.Sign < 0 {
				side = core.Ask
			}
			size := p.Size
			if size < 0 {
				size = -size
				side = core.Ask
			}
			out = append(out, core.Position{
				MarketIndex: p.MarketID,
				Size:        size,
				Side:        side,
				MarkPrice:   p.MarkPrice,
			})
		}
	}
	return out, nil
}

// doRequest sends params as a query string on GET and as a form body on POST,
// unless a JSON body is given.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, jsonBody any) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	urlStr := c.baseURL + path
	switch {
	case jsonBody != nil:
		data, merr := json.Marshal(jsonBody)
		if merr != nil {
			return nil, merr
		}
		req, err = http.NewRequestWithContext(ctx, method, urlStr, bytes.NewReader(data))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	case method == http.MethodGet:
		if encoded := params.Encode(); encoded != "" {
			urlStr += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, urlStr, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, urlStr, strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &core.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.NetworkError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// unixAuto accepts seconds or milliseconds.
func unixAuto(v int64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	return time.Unix(v, 0)
}
