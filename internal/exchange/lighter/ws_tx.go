package lighter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

type txWSConn struct {
	conn *websocket.Conn
	stop chan struct{}
}

func (c *Client) sendTxWS(ctx context.Context, txType core.TxType, txInfo string) (string, error) {
	if !json.Valid([]byte(txInfo)) {
		return "", core.Invalid("tx_info", "is not json")
	}
	resp, err := c.roundTripWS(ctx, wsRequest{
		Type: wsTypeSendTx,
		Data: &wsSendData{ID: newWSRequestID(), TxType: txType, TxInfo: json.RawMessage(txInfo)},
	})
	if err != nil {
		return "", err
	}
	if resp.Data.TxHash == "" {
		return "", &core.NetworkError{Op: "ws " + wsTypeSendTx, Err: fmt.Errorf("%w: no hash in answer", core.ErrOutcomeUnknown)}
	}
	return resp.Data.TxHash, nil
}

func (c *Client) sendTxBatchWS(ctx context.Context, accountIndex int64, apiKeyIndex uint8, batch []core.SignedTx) ([]string, error) {
	resp, err := c.roundTripWS(ctx, wsRequest{
		Type: wsTypeSendTxBatch,
		Data: &wsSendData{ID: newWSRequestID(), AccountIndex: accountIndex, APIKeyIndex: apiKeyIndex, Transactions: batch},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data.Hashes) != len(batch) {
		return nil, &core.NetworkError{Op: "ws " + wsTypeSendTxBatch, Err: fmt.Errorf("%w: %d hashes for %d transactions", core.ErrOutcomeUnknown, len(resp.Data.Hashes), len(batch))}
	}
	return resp.Data.Hashes, nil
}

func (c *Client) roundTripWS(ctx context.Context, req wsRequest) (wsResponse, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	conn, err := c.ensureTxConn(ctx)
	if err != nil {
		return wsResponse{}, err
	}
	resp, err := sendWSRequest(ctx, conn, req)
	if err == nil {
		return resp, nil
	}
	// A rejection is an answer; the connection is still good.
	if errors.Is(err, core.ErrRejected) {
		return wsResponse{}, err
	}
	c.resetTxConn()
	var writeErr *wsWriteError
	if errors.As(err, &writeErr) {
		return wsResponse{}, &core.NetworkError{Op: "ws " + req.Type, Err: err}
	}
	// The frame went out, so the venue may have taken it.
	return wsResponse{}, &core.NetworkError{Op: "ws " + req.Type, Err: fmt.Errorf("%w: %v", core.ErrOutcomeUnknown, err)}
}

func (c *Client) ensureTxConn(ctx context.Context) (*websocket.Conn, error) {
	if c.txConn != nil {
		return c.txConn.conn, nil
	}
	conn, err := c.dialWS(ctx)
	if err != nil {
		return nil, &core.NetworkError{Op: "ws dial", Err: err}
	}
	tc := &txWSConn{conn: conn, stop: make(chan struct{})}
	c.txConn = tc
	if c.wsKeepalive > 0 {
		go c.txKeepaliveLoop(tc)
	}
	c.logger.Info("tx websocket connected", "event", "ws_tx_connected", "url", c.wsBaseURL)
	return conn, nil
}

func (c *Client) dialWS(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	var lastErr error
	for attempt := 1; attempt <= c.wsDialTries; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsBaseURL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.logger.Debug("tx websocket dial failed", "event", "ws_tx_dial_failed", "attempt", attempt, "err", err)
		if attempt == c.wsDialTries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
	return nil, lastErr
}

func (c *Client) resetTxConn() {
	if c.txConn == nil {
		return
	}
	close(c.txConn.stop)
	_ = c.txConn.conn.Close()
	c.txConn = nil
}

func (c *Client) txKeepaliveLoop(tc *txWSConn) {
	ticker := time.NewTicker(c.wsKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.txMu.Lock()
			if c.txConn == nil || c.txConn != tc {
				c.txMu.Unlock()
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := sendWSRequest(ctx, tc.conn, wsRequest{Type: wsTypePing})
			cancel()
			if err != nil {
				c.logger.Warn("tx websocket keepalive failed", "event", "ws_tx_keepalive_failed", "err", err)
				c.resetTxConn()
				c.txMu.Unlock()
				return
			}
			c.txMu.Unlock()
		case <-tc.stop:
			return
		}
	}
}
