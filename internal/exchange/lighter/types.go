package lighter

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

// Success codes carried in response bodies.
const (
	codeOK       = 0
	codeOKLegacy = 200
)

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type nonceResponse struct {
	Code  int   `json:"code"`
	Nonce int64 `json:"nonce"`
}

type sendTxResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash"`
	Hash    string `json:"hash"`
}

func (r sendTxResponse) hash() string {
	if r.TxHash != "" {
		return r.TxHash
	}
	return r.Hash
}

type sendTxBatchRequest struct {
	AccountIndex int64           `json:"account_index"`
	APIKeyIndex  uint8           `json:"api_key_index"`
	Transactions []core.SignedTx `json:"transactions"`
}

type sendTxBatchResponse struct {
	Code     int      `json:"code"`
	Message  string   `json:"message"`
	Hashes   []string `json:"hashes"`
	TxHashes []string `json:"tx_hash"`
}

func (r sendTxBatchResponse) hashes() []string {
	if len(r.Hashes) > 0 {
		return r.Hashes
	}
	return r.TxHashes
}

type txResponse struct {
	Code        int      `json:"code"`
	Message     string   `json:"message"`
	Hash        string   `json:"hash"`
	Status      txStatus `json:"status"`
	BlockHeight int64    `json:"block_height"`
	Type        uint8    `json:"type"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// txStatus accepts the ledger's numeric codes as well as status names.
type txStatus core.TxStatus

var numericTxStatus = map[int]core.TxStatus{
	0: core.TxPending, // queued
	1: core.TxPending, // committed, not yet executed
	2: core.TxConfirmed,
	3: core.TxFailed,
}

func (s *txStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		switch strings.ToLower(name) {
		case "confirmed", "executed", "success":
			*s = txStatus(core.TxConfirmed)
		case "failed", "reverted", "rejected":
			*s = txStatus(core.TxFailed)
		default:
			*s = txStatus(core.TxPending)
		}
		return nil
	}
	code, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	if status, ok := numericTxStatus[code]; ok {
		*s = txStatus(status)
		return nil
	}
	*s = txStatus(core.TxPending)
	return nil
}

type accountResponse struct {
	Code     int `json:"code"`
	Accounts []struct {
		Index     int64              `json:"index"`
		Positions []positionResponse `json:"positions"`
	} `json:"accounts"`
}

type positionResponse struct {
	MarketID uint8 `json:"market_id"`
	// Sign is 1 for long and -1 for short.
	Sign      int   `json:"sign"`
	Size      int64 `json:"size"`
	MarkPrice int64 `json:"mark_price"`
}

// WebSocket frames.

type wsRequest struct {
	Type string      `json:"type"`
	Data *wsSendData `json:"data,omitempty"`
}

type wsSendData struct {
	ID           string          `json:"id"`
	TxType       core.TxType     `json:"tx_type,omitempty"`
	TxInfo       json.RawMessage `json:"tx_info,omitempty"`
	AccountIndex int64           `json:"account_index,omitempty"`
	APIKeyIndex  uint8           `json:"api_key_index,omitempty"`
	Transactions []core.SignedTx `json:"transactions,omitempty"`
}

type wsResponse struct {
	Type string `json:"type"`
	Data struct {
		ID      string   `json:"id"`
		Code    int      `json:"code"`
		Message string   `json:"message"`
		TxHash  string   `json:"tx_hash"`
		Hashes  []string `json:"hashes"`
	} `json:"data"`
}
