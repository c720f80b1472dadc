package nonce

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

const (
	DefaultBatchSize    = 20
	DefaultLowWater     = 2
	DefaultStaleAfter   = 30 * time.Second
	DefaultFetchTimeout = 10 * time.Second
)

var errEmptyBatch = errors.New("ledger returned no nonces")

type CacheOptions struct {
	BatchSize    int
	LowWater     int
	StaleAfter   time.Duration
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

// Cache serves nonces from a per-key ordered queue and refills it in the
// background once it drops to the low-water mark. Concurrent fetches for one
// key share a single ledger round trip. A value is handed out again only
// after it was released.
type Cache struct {
	fetcher      Fetcher
	batchSize    int
	lowWater     int
	staleAfter   time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[Key]*entry
}

type entry struct {
	queue     []int64
	fetchedAt time.Time
	// highest is the largest value ever handed out for the key.
	highest   int64
	refilling bool
}

func NewCache(fetcher Fetcher, opts CacheOptions) *Cache {
	c := &Cache{
		fetcher:      fetcher,
		batchSize:    opts.BatchSize,
		lowWater:     opts.LowWater,
		staleAfter:   opts.StaleAfter,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger,
		now:          time.Now,
		entries:      make(map[Key]*entry),
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.lowWater <= 0 {
		c.lowWater = DefaultLowWater
	}
	if c.lowWater >= c.batchSize {
		c.lowWater = c.batchSize - 1
	}
	if c.staleAfter <= 0 {
		c.staleAfter = DefaultStaleAfter
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *Cache) Next(ctx context.Context, key Key) (int64, error) {
	for {
		c.mu.Lock()
		e := c.entryLocked(key)
		if len(e.queue) > 0 && c.now().Sub(e.fetchedAt) >= c.staleAfter {
			c.logger.Debug("nonce batch stale", "event", "nonce_stale", "key", key.String(), "dropped", len(e.queue))
			e.queue = nil
		}
		// The low-water reserve is only served once the refill in flight has
		// succeeded; a failed refill clears it.
		if len(e.queue) > 0 && !(e.refilling && len(e.queue) <= c.lowWater) {
			v := e.queue[0]
			e.queue = e.queue[1:]
			if v > e.highest {
				e.highest = v
			}
			if len(e.queue) <= c.lowWater && !e.refilling {
				e.refilling = true
				go c.refill(key)
			}
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		ch := c.group.DoChan(key.String(), func() (any, error) {
			return nil, c.fetch(key)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return 0, &core.NonceError{AccountIndex: key.AccountIndex, APIKeyIndex: key.APIKeyIndex, Err: res.Err}
			}
		case <-ctx.Done():
			return 0, &core.NonceError{AccountIndex: key.AccountIndex, APIKeyIndex: key.APIKeyIndex, Err: ctx.Err()}
		}
	}
}

// Release puts n, drawn by Next but never sent, back in the queue so the next
// caller takes it before any higher value.
func (c *Cache) Release(key Key, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || n < 0 || n > e.highest {
		return
	}
	i := sort.Search(len(e.queue), func(i int) bool { return e.queue[i] >= n })
	if i < len(e.queue) && e.queue[i] == n {
		return
	}
	e.queue = append(e.queue, 0)
	copy(e.queue[i+1:], e.queue[i:])
	e.queue[i] = n
	if len(e.queue) == 1 {
		e.fetchedAt = c.now()
	}
	c.logger.Debug("nonce released", "event", "nonce_released", "key", key.String(), "nonce", n)
}

// Invalidate drops the queued values of key so the next Next call reads the
// ledger again. Values already handed out stay out: the refill skips
// everything up to the highest one.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.queue = nil
	c.logger.Info("nonce cache invalidated", "event", "nonce_invalidated", "key", key.String(), "highest", e.highest)
}

// Warm prefills the queues of several keys concurrently.
func (c *Cache) Warm(ctx context.Context, keys ...Key) error {
	g, _ := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			ch := c.group.DoChan(key.String(), func() (any, error) {
				return nil, c.fetch(key)
			})
			select {
			case res := <-ch:
				if res.Err != nil {
					return &core.NonceError{AccountIndex: key.AccountIndex, APIKeyIndex: key.APIKeyIndex, Err: res.Err}
				}
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

// Len reports how many nonces are queued for key.
func (c *Cache) Len(key Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return len(e.queue)
	}
	return 0
}

func (c *Cache) refill(key Key) {
	_, _, _ = c.group.Do(key.String(), func() (any, error) {
		return nil, c.fetch(key)
	})
}

// fetch runs detached from any caller context so one cancelled caller does
// not fail the others sharing the fetch.
func (c *Cache) fetch(key Key) error {
	c.mu.Lock()
	c.entryLocked(key).refilling = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()
	values, err := c.fetcher.FetchNonces(ctx, key, c.batchSize)
	if err == nil && len(values) == 0 {
		err = errEmptyBatch
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(key)
	e.refilling = false
	if err != nil {
		e.queue = nil
		c.logger.Warn("nonce refill failed", "event", "nonce_refill_failed", "key", key.String(), "err", err)
		return err
	}

	// Queued values below the ledger's next nonce were used elsewhere.
	kept := e.queue[:0]
	for _, v := range e.queue {
		if v >= values[0] {
			kept = append(kept, v)
		}
	}
	e.queue = kept
	prev := e.highest
	if n := len(e.queue); n > 0 && e.queue[n-1] > prev {
		prev = e.queue[n-1]
	}
	for _, v := range values {
		if v <= prev {
			v = prev + 1
		}
		e.queue = append(e.queue, v)
		prev = v
	}
	e.fetchedAt = c.now()
	c.logger.Debug("nonce batch fetched", "event", "nonce_refill", "key", key.String(), "first", values[0], "queued", len(e.queue))
	return nil
}

func (c *Cache) entryLocked(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{highest: -1}
		c.entries[key] = e
	}
	return e
}
