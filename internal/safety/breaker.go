// Package safety stops hammering the venue once transaction submission keeps
// failing at the transport level.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/specialjp/lighter-ts-sub000/internal/alert"
	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/exchange"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half_open"
)

const (
	defaultCooldown          = 30 * time.Second
	defaultHalfOpenSuccesses = 1
	actionSubmit             = "submit"
)

type BreakerOptions struct {
	Enabled bool
	// MaxFailures consecutive retriable failures open the circuit. < 1 disables it.
	MaxFailures       int
	Cooldown          time.Duration
	HalfOpenSuccesses int
	Logger            *slog.Logger
}

// Breaker is a closed/open/half-open circuit over submissions. Only
// retriable failures count: a ledger rejection proves the venue is reachable
// and is treated like a success.
type Breaker struct {
	enabled           bool
	maxFailures       int
	cooldown          time.Duration
	halfOpenSuccesses int
	logger            *slog.Logger
	now               func() time.Time

	mu              sync.Mutex
	state           circuitState
	failures        int
	halfOpenSuccess int
	openedAt        time.Time
	openErr         error
	alerter         alert.Alerter
}

func NewBreaker(opts BreakerOptions) *Breaker {
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.HalfOpenSuccesses < 1 {
		opts.HalfOpenSuccesses = defaultHalfOpenSuccesses
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Breaker{
		enabled:           opts.Enabled && opts.MaxFailures > 0,
		maxFailures:       opts.MaxFailures,
		cooldown:          opts.Cooldown,
		halfOpenSuccesses: opts.HalfOpenSuccesses,
		logger:            opts.Logger,
		now:               time.Now,
		state:             circuitClosed,
	}
}

func (b *Breaker) SetAlerter(alerter alert.Alerter) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerter = alerter
}

// Allow fails fast while the circuit is open. After the cooldown it moves to
// half-open and lets probes through.
func (b *Breaker) Allow() error {
	if b == nil || !b.enabled {
		return nil
	}
	b.mu.Lock()
	if b.state != circuitOpen {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		err := b.openErr
		b.mu.Unlock()
		return err
	}
	b.state = circuitHalfOpen
	b.halfOpenSuccess = 0
	b.failures = 0
	alerter := b.alerter
	b.mu.Unlock()

	b.logger.Info("circuit half open", "event", "circuit_breaker_half_open", "action", actionSubmit, "cooldown", b.cooldown.String())
	if alerter != nil {
		alerter.Important("circuit_breaker_half_open", map[string]string{
			"action":   actionSubmit,
			"cooldown": b.cooldown.String(),
		})
	}
	return nil
}

// CooldownRemaining is zero unless the circuit is open.
func (b *Breaker) CooldownRemaining() time.Duration {
	if b == nil || !b.enabled {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != circuitOpen {
		return 0
	}
	if rem := b.cooldown - b.now().Sub(b.openedAt); rem > 0 {
		return rem
	}
	return 0
}

// Record feeds the outcome of one submission. It returns the open-circuit
// error when this outcome trips the breaker.
func (b *Breaker) Record(err error) error {
	if b == nil || !b.enabled {
		return nil
	}
	if err != nil && !core.IsRetriable(err) {
		err = nil
	}

	b.mu.Lock()
	alerter := b.alerter
	if err == nil {
		prevFailures, prevState := b.failures, b.state
		recovered := false
		switch b.state {
		case circuitHalfOpen:
			b.halfOpenSuccess++
			if b.halfOpenSuccess >= b.halfOpenSuccesses {
				recovered = true
				b.state = circuitClosed
				b.failures = 0
				b.openErr = nil
				b.openedAt = time.Time{}
			}
		case circuitClosed:
			if b.failures > 0 {
				recovered = true
				b.failures = 0
			}
		}
		b.mu.Unlock()
		if recovered {
			b.logger.Info("circuit recovered", "event", "circuit_breaker_recovered", "action", actionSubmit,
				"previous_consecutive_failures", prevFailures, "from_state", string(prevState))
			if alerter != nil {
				alerter.Important("circuit_breaker_recovered", map[string]string{
					"action":                        actionSubmit,
					"previous_consecutive_failures": strconv.Itoa(prevFailures),
					"from_state":                    string(prevState),
				})
			}
		}
		return nil
	}

	switch b.state {
	case circuitOpen:
		openErr := b.openErr
		b.mu.Unlock()
		return openErr
	case circuitHalfOpen:
		openErr := b.tripLocked(err, 1, "half_open_probe_failed")
		b.mu.Unlock()
		b.reportTrip(alerter, "half_open", 1, err)
		return openErr
	}

	b.failures++
	failures := b.failures
	if failures < b.maxFailures {
		b.mu.Unlock()
		if b.maxFailures > 1 && failures == b.maxFailures-1 {
			b.logger.Warn("circuit near trip", "event", "circuit_breaker_near_trip", "action", actionSubmit,
				"consecutive_failures", failures, "threshold", b.maxFailures, "last_error", err.Error())
			if alerter != nil {
				alerter.Important("circuit_breaker_near_trip", map[string]string{
					"action":               actionSubmit,
					"consecutive_failures": strconv.Itoa(failures),
					"threshold":            strconv.Itoa(b.maxFailures),
					"last_error":           err.Error(),
				})
			}
		}
		return nil
	}
	openErr := b.tripLocked(err, failures, "consecutive_failures")
	b.mu.Unlock()
	b.reportTrip(alerter, "closed", failures, err)
	return openErr
}

func (b *Breaker) tripLocked(err error, failures int, reason string) error {
	b.state = circuitOpen
	b.openedAt = b.now()
	b.halfOpenSuccess = 0
	b.failures = failures
	b.openErr = fmt.Errorf("%w: %w: %s failed %d consecutive times, cooldown=%s, reason=%s, last error: %v",
		core.ErrNetwork, ErrCircuitOpen, actionSubmit, failures, b.cooldown, reason, err)
	return b.openErr
}

func (b *Breaker) reportTrip(alerter alert.Alerter, phase string, failures int, err error) {
	b.logger.Error("circuit tripped", "event", "circuit_breaker_trip", "action", actionSubmit, "phase", phase,
		"consecutive_failures", failures, "threshold", b.maxFailures, "last_error", err.Error())
	if alerter != nil {
		alerter.Important("circuit_breaker_trip", map[string]string{
			"action":               actionSubmit,
			"phase":                phase,
			"consecutive_failures": strconv.Itoa(failures),
			"threshold":            strconv.Itoa(b.maxFailures),
			"last_error":           err.Error(),
		})
	}
}

// GuardedSubmitter puts a Breaker in front of a Submitter.
type GuardedSubmitter struct {
	inner   exchange.Submitter
	breaker *Breaker
}

func NewGuardedSubmitter(inner exchange.Submitter, breaker *Breaker) *GuardedSubmitter {
	return &GuardedSubmitter{inner: inner, breaker: breaker}
}

func (s *GuardedSubmitter) SendTx(ctx context.Context, txType core.TxType, txInfo string) (string, error) {
	if err := s.breaker.Allow(); err != nil {
		return "", err
	}
	hash, err := s.inner.SendTx(ctx, txType, txInfo)
	if trip := s.breaker.Record(err); trip != nil {
		return hash, trip
	}
	return hash, err
}

func (s *GuardedSubmitter) SendTxBatch(ctx context.Context, accountIndex int64, apiKeyIndex uint8, batch []core.SignedTx) ([]string, error) {
	if err := s.breaker.Allow(); err != nil {
		return nil, err
	}
	hashes, err := s.inner.SendTxBatch(ctx, accountIndex, apiKeyIndex, batch)
	if trip := s.breaker.Record(err); trip != nil {
		return hashes, trip
	}
	return hashes, err
}
