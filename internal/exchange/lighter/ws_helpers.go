package lighter

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	wsTypeSendTx      = "jsonapi/sendtx"
	wsTypeSendTxBatch = "jsonapi/sendtxbatch"
	wsTypePing        = "ping"
	wsTypePong        = "pong"

	defaultWSResponseTimeout = 10 * time.Second
)

var wsRequestSeq uint64

func newWSRequestID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(atomic.AddUint64(&wsRequestSeq, 1), 36)
}

// wsWriteError is a request frame that never left this process.
type wsWriteError struct{ err error }

func (e *wsWriteError) Error() string { return "write: " + e.err.Error() }

func (e *wsWriteError) Unwrap() error { return e.err }

func sendWSRequest(ctx context.Context, conn *websocket.Conn, req wsRequest) (wsResponse, error) {
	if err := conn.WriteJSON(req); err != nil {
		return wsResponse{}, &wsWriteError{err}
	}
	match := func(resp wsResponse) bool {
		return resp.Data.ID == req.Data.ID
	}
	if req.Type == wsTypePing {
		match = func(resp wsResponse) bool { return resp.Type == wsTypePong }
	}
	return waitForWSResponse(ctx, conn, match)
}

// waitForWSResponse reads frames until match accepts one. Unrelated frames are
// skipped.
func waitForWSResponse(ctx context.Context, conn *websocket.Conn, match func(wsResponse) bool) (wsResponse, error) {
	deadline := time.Now().Add(defaultWSResponseTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return wsResponse{}, err
		}
		var resp wsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if !match(resp) {
			continue
		}
		if err := checkCode(resp.Data.Code, resp.Data.Message); err != nil {
			return resp, err
		}
		return resp, nil
	}
}
