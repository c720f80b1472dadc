// Package confirm waits for a submitted transaction to reach a final status.
package confirm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/exchange"
)

const (
	DefaultMaxWait      = 60 * time.Second
	DefaultPollInterval = time.Second
)

type State int

const (
	StatePolling State = iota
	StateConfirmed
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	}
	return "polling"
}

// Observer is told about every terminal outcome.
type Observer interface {
	TxFinal(ctx context.Context, rec core.TxRecord, state State)
}

type Poller struct {
	source   exchange.TxSource
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewPoller(source exchange.TxSource, observer Observer, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:   source,
		observer: observer,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Wait polls hash until it is confirmed or failed, or maxWait elapses.
// Lookup errors, not-found included, are retried until the deadline since a
// fresh transaction takes a while to become visible. Each lookup is bounded
// by the time left, so a slow venue cannot stretch the wait past maxWait. A
// failed transaction returns a *core.TransactionError and running out of
// time a *core.TimeoutError. Cancelling ctx stops the wait with ctx.Err().
func (p *Poller) Wait(ctx context.Context, hash string, maxWait, pollInterval time.Duration) (core.TxRecord, error) {
	if hash == "" {
		return core.TxRecord{}, core.Invalid("hash", "is empty")
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	start := p.now()
	deadline := start.Add(maxWait)
	state := StatePolling
	last := core.TxRecord{Hash: hash, Status: core.TxPending}
	polls := 0

	for state == StatePolling {
		polls++
		rec, err := p.lookup(ctx, hash, deadline.Sub(p.now()))
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if !errors.Is(err, core.ErrNotFound) {
				p.logger.Debug("tx lookup failed, retrying", "event", "tx_poll_error", "hash", hash, "poll", polls, "err", err)
			}
		case rec.Status == core.TxConfirmed:
			last, state = rec, StateConfirmed
			continue
		case rec.Status == core.TxFailed:
			last, state = rec, StateFailed
			continue
		default:
			last = rec
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			state = StateTimedOut
			break
		}
		wait := pollInterval
		if wait > remaining {
			wait = remaining
		}
		if err := p.sleep(ctx, wait); err != nil {
			return last, err
		}
	}

	p.logger.Info("tx final", "event", "tx_final", "hash", hash, "state", state.String(), "polls", polls, "block_height", last.BlockHeight)
	if p.observer != nil {
		p.observer.TxFinal(ctx, last, state)
	}
	switch state {
	case StateFailed:
		return last, &core.TransactionError{Record: last}
	case StateTimedOut:
		return last, &core.TimeoutError{Hash: hash, Waited: p.now().Sub(start)}
	}
	return last, nil
}

func (p *Poller) lookup(ctx context.Context, hash string, remaining time.Duration) (core.TxRecord, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	return p.source.GetTx(lookupCtx, hash)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
