package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

type scriptedSource struct {
	statuses []core.TxStatus
	errs     []error
	calls    int
}

func (s *scriptedSource) GetTx(_ context.Context, hash string) (core.TxRecord, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return core.TxRecord{}, s.errs[i]
	}
	status := s.statuses[len(s.statuses)-1]
	if i < len(s.statuses) {
		status = s.statuses[i]
	}
	return core.TxRecord{Hash: hash, Status: status, BlockHeight: int64(100 + i)}, nil
}

type finalSpy struct {
	states []State
}

func (f *finalSpy) TxFinal(_ context.Context, _ core.TxRecord, state State) {
	f.states = append(f.states, state)
}

// fakeClock makes sleeps advance virtual time instantly.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newTestPoller(src *scriptedSource, obs Observer) (*Poller, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	p := NewPoller(src, obs, nil)
	p.now = func() time.Time { return clock.now }
	p.sleep = func(_ context.Context, d time.Duration) error {
		clock.sleeps = append(clock.sleeps, d)
		clock.now = clock.now.Add(d)
		return nil
	}
	return p, clock
}

func TestWaitConfirmedAfterTwoPolls(t *testing.T) {
	src := &scriptedSource{statuses: []core.TxStatus{core.TxPending, core.TxPending, core.TxConfirmed}}
	spy := &finalSpy{}
	p, clock := newTestPoller(src, spy)

	rec, err := p.Wait(context.Background(), "0x1", 10*time.Second, time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if rec.Status != core.TxConfirmed || rec.BlockHeight != 102 {
		t.Fatalf("Wait() = %+v, want confirmed record from third lookup", rec)
	}
	if len(clock.sleeps) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(clock.sleeps))
	}
	if len(spy.states) != 1 || spy.states[0] != StateConfirmed {
		t.Fatalf("observer states = %v, want [confirmed]", spy.states)
	}
}

func TestWaitTimesOut(t *testing.T) {
	src := &scriptedSource{statuses: []core.TxStatus{core.TxPending}}
	p, clock := newTestPoller(src, nil)
	start := clock.now

	_, err := p.Wait(context.Background(), "0x2", 3500*time.Millisecond, time.Second)
	var timeoutErr *core.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Wait() error = %v, want TimeoutError", err)
	}
	if waited := clock.now.Sub(start); waited > 3500*time.Millisecond {
		t.Fatalf("waited %s, want <= 3.5s", waited)
	}
	if core.Kind(err) != "timed out" {
		t.Fatalf("Kind() = %q, want timed out", core.Kind(err))
	}
}

func TestWaitFailedStopsImmediately(t *testing.T) {
	src := &scriptedSource{statuses: []core.TxStatus{core.TxFailed}}
	p, clock := newTestPoller(src, nil)

	rec, err := p.Wait(context.Background(), "0x3", 10*time.Second, time.Second)
	var txErr *core.TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("Wait() error = %v, want TransactionError", err)
	}
	if txErr.Record.Hash != "0x3" || rec.Status != core.TxFailed {
		t.Fatalf("TransactionError.Record = %+v, want failed 0x3", txErr.Record)
	}
	if src.calls != 1 || len(clock.sleeps) != 0 {
		t.Fatalf("calls = %d sleeps = %d, want 1 and 0", src.calls, len(clock.sleeps))
	}
}

func TestWaitRetriesLookupErrors(t *testing.T) {
	src := &scriptedSource{
		statuses: []core.TxStatus{core.TxPending, core.TxPending, core.TxPending, core.TxConfirmed},
		errs: []error{
			&core.APIError{Status: 404, Msg: "not found"},
			&core.APIError{Status: 500, Msg: "boom"},
			&core.NetworkError{Op: "GET /api/v1/tx", Err: errors.New("reset")},
		},
	}
	p, _ := newTestPoller(src, nil)

	rec, err := p.Wait(context.Background(), "0x4", 10*time.Second, time.Second)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if rec.Status != core.TxConfirmed || src.calls != 4 {
		t.Fatalf("Wait() = %+v after %d calls, want confirmed after 4", rec, src.calls)
	}
}

func TestWaitHonoursCancel(t *testing.T) {
	src := &scriptedSource{statuses: []core.TxStatus{core.TxPending}}
	p := NewPoller(src, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Wait(ctx, "0x5", time.Minute, 10*time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait(cancelled) error = %v, want context.Canceled", err)
	}
}

// slowSource answers only after delay unless the lookup context ends first.
type slowSource struct {
	delay time.Duration
}

func (s slowSource) GetTx(ctx context.Context, hash string) (core.TxRecord, error) {
	select {
	case <-time.After(s.delay):
		return core.TxRecord{Hash: hash, Status: core.TxPending}, nil
	case <-ctx.Done():
		return core.TxRecord{}, ctx.Err()
	}
}

func TestWaitBoundsSlowLookupByMaxWait(t *testing.T) {
	p := NewPoller(slowSource{delay: 2 * time.Second}, nil, nil)

	start := time.Now()
	_, err := p.Wait(context.Background(), "0x6", 100*time.Millisecond, 10*time.Millisecond)
	took := time.Since(start)

	var timeoutErr *core.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Wait() error = %v, want TimeoutError", err)
	}
	if took > time.Second {
		t.Fatalf("Wait() took %s, want close to maxWait 100ms", took)
	}
}
