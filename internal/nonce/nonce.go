// Package nonce hands out per (account, api key) transaction nonces, either
// straight from the ledger or from a prefetched per-key queue.
package nonce

import (
	"context"
	"strconv"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/exchange"
)

type Key struct {
	AccountIndex int64
	APIKeyIndex  uint8
}

func (k Key) String() string {
	return strconv.FormatInt(k.AccountIndex, 10) + "/" + strconv.Itoa(int(k.APIKeyIndex))
}

// Provider yields nonces for a key. Release hands back a nonce that never
// reached the venue. Invalidate drops anything cached for the key after a
// submission failed in a way that leaves the ledger's view unknown.
type Provider interface {
	Next(ctx context.Context, key Key) (int64, error)
	Release(key Key, n int64)
	Invalidate(key Key)
}

// Fetcher reads count consecutive usable nonces for key from the ledger.
type Fetcher interface {
	FetchNonces(ctx context.Context, key Key, count int) ([]int64, error)
}

// Direct asks the ledger on every call.
type Direct struct {
	Source exchange.NonceSource
}

func (d Direct) Next(ctx context.Context, key Key) (int64, error) {
	n, err := d.Source.NextNonce(ctx, key.AccountIndex, key.APIKeyIndex)
	if err != nil {
		return 0, &core.NonceError{AccountIndex: key.AccountIndex, APIKeyIndex: key.APIKeyIndex, Err: err}
	}
	return n, nil
}

func (Direct) Release(Key, int64) {}

func (Direct) Invalidate(Key) {}

// SequentialFetcher reads the ledger's next nonce once and extends it to a
// batch. Nonces of one key are consumed in order, so the next count values
// are all unused as long as this process is the key's only writer.
type SequentialFetcher struct {
	Source exchange.NonceSource
}

func (f SequentialFetcher) FetchNonces(ctx context.Context, key Key, count int) ([]int64, error) {
	if count <= 0 {
		return nil, core.Invalid("count", "must be > 0")
	}
	n, err := f.Source.NextNonce(ctx, key.AccountIndex, key.APIKeyIndex)
	if err != nil {
		return nil, err
	}
	out := make([]int64, count)
	for i := range out {
		out[i] = n + int64(i)
	}
	return out, nil
}
