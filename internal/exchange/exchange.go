package exchange

import (
	"context"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

// NonceSource reads the next unused nonce for an (account, api key) pair.
type NonceSource interface {
	NextNonce(ctx context.Context, accountIndex int64, apiKeyIndex uint8) (int64, error)
}

// Submitter sends signed tx_info payloads and returns their hashes.
type Submitter interface {
	SendTx(ctx context.Context, txType core.TxType, txInfo string) (string, error)
	SendTxBatch(ctx context.Context, accountIndex int64, apiKeyIndex uint8, batch []core.SignedTx) ([]string, error)
}

// TxSource looks up a submitted transaction by hash.
type TxSource interface {
	GetTx(ctx context.Context, hash string) (core.TxRecord, error)
}

// PositionSource reads the open positions of an account.
type PositionSource interface {
	Positions(ctx context.Context, accountIndex int64) ([]core.Position, error)
}

// Venue is the full REST surface a signer client talks to.
type Venue interface {
	NonceSource
	Submitter
	TxSource
	PositionSource
}
