package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/specialjp/lighter-ts-sub000/internal/core"
)

var errDial = &core.NetworkError{Op: "POST /api/v1/sendTx", Err: errors.New("connection refused")}

type alertSpy struct {
	mu     sync.Mutex
	events []string
}

func (a *alertSpy) Important(event string, _ map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func newTestBreaker(maxFailures int) (*Breaker, *time.Time) {
	now := time.Unix(1700000000, 0)
	b := NewBreaker(BreakerOptions{Enabled: true, MaxFailures: maxFailures, Cooldown: time.Minute})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerTripsOnRetriableFailures(t *testing.T) {
	b, _ := newTestBreaker(2)
	spy := &alertSpy{}
	b.SetAlerter(spy)

	if err := b.Record(errDial); err != nil {
		t.Fatalf("Record(first) error = %v, want nil", err)
	}
	tripErr := b.Record(errDial)
	if !errors.Is(tripErr, ErrCircuitOpen) || !errors.Is(tripErr, core.ErrNetwork) {
		t.Fatalf("Record(second) error = %v, want ErrCircuitOpen and ErrNetwork", tripErr)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() error = %v, want ErrCircuitOpen while cooling down", err)
	}
	if rem := b.CooldownRemaining(); rem != time.Minute {
		t.Fatalf("CooldownRemaining() = %s, want 1m", rem)
	}
	if len(spy.events) != 2 || spy.events[0] != "circuit_breaker_near_trip" || spy.events[1] != "circuit_breaker_trip" {
		t.Fatalf("alerts = %v, want near_trip then trip", spy.events)
	}
}

func TestBreakerIgnoresRejections(t *testing.T) {
	b, _ := newTestBreaker(1)
	rejected := &core.RejectedError{Code: 21120, Msg: "invalid nonce"}
	for i := 0; i < 5; i++ {
		if err := b.Record(rejected); err != nil {
			t.Fatalf("Record(rejection %d) error = %v, want nil", i, err)
		}
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() error = %v, want nil", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(1)
	if err := b.Record(errDial); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Record(trip) error = %v, want ErrCircuitOpen", err)
	}

	*now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow(after cooldown) error = %v, want nil", err)
	}
	if err := b.Record(nil); err != nil {
		t.Fatalf("Record(success probe) error = %v, want nil", err)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow(after recovery) error = %v, want nil", err)
	}
	if rem := b.CooldownRemaining(); rem != 0 {
		t.Fatalf("CooldownRemaining() = %s, want 0 after recovery", rem)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		_ = b.Record(errDial)
	}
	*now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow(after cooldown) error = %v, want nil", err)
	}
	if err := b.Record(errDial); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Record(half-open failure) error = %v, want ErrCircuitOpen", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() error = %v, want ErrCircuitOpen after re-open", err)
	}
}

type flakySubmitter struct {
	err   error
	calls int
}

func (f *flakySubmitter) SendTx(context.Context, core.TxType, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "0xhash", nil
}

func (f *flakySubmitter) SendTxBatch(_ context.Context, _ int64, _ uint8, batch []core.SignedTx) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]string, len(batch)), nil
}

func TestGuardedSubmitterFailsFastWhenOpen(t *testing.T) {
	b, _ := newTestBreaker(2)
	inner := &flakySubmitter{err: errDial}
	s := NewGuardedSubmitter(inner, b)

	ctx := context.Background()
	if _, err := s.SendTx(ctx, core.TxTypeCreateOrder, "{}"); !errors.Is(err, core.ErrNetwork) || errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("SendTx(first) error = %v, want plain network error", err)
	}
	if _, err := s.SendTx(ctx, core.TxTypeCreateOrder, "{}"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("SendTx(second) error = %v, want ErrCircuitOpen", err)
	}
	if _, err := s.SendTxBatch(ctx, 1, 0, []core.SignedTx{{Type: core.TxTypeCancelOrder, TxInfo: "{}"}}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("SendTxBatch(open) error = %v, want ErrCircuitOpen", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d, want 2", inner.calls)
	}
}

func TestDisabledBreakerPassesThrough(t *testing.T) {
	b := NewBreaker(BreakerOptions{Enabled: false, MaxFailures: 1})
	for i := 0; i < 3; i++ {
		if err := b.Record(errDial); err != nil {
			t.Fatalf("Record() on disabled breaker error = %v", err)
		}
	}
	var nilBreaker *Breaker
	if err := nilBreaker.Allow(); err != nil {
		t.Fatalf("nil Allow() error = %v", err)
	}
}
