// Package alert queues important SDK events (failed transactions, breaker
// trips, transport fallbacks) and forwards them to a Notifier without ever
// blocking the caller.
package alert

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

type Alerter interface {
	Important(event string, fields map[string]string)
}

const (
	defaultQueueSize          = 128
	defaultDropReportInterval = time.Minute
	notifyTimeout             = 20 * time.Second
)

// Identity tags every message with where it came from.
type Identity struct {
	Network      string
	AccountIndex int64
	APIKeyIndex  uint8
}

type ManagerOptions struct {
	QueueSize int
	// DropReportInterval <= 0 disables the periodic drop summary.
	DropReportInterval time.Duration
	Logger             *slog.Logger
}

type Manager struct {
	identity Identity
	notifier Notifier
	logger   *slog.Logger

	queue              chan event
	stop               chan struct{}
	done               chan struct{}
	dropReportInterval time.Duration
	droppedTotal       atomic.Uint64
	droppedWindow      atomic.Uint64

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type event struct {
	name   string
	fields map[string]string
	at     time.Time
}

func NewManager(id Identity, notifier Notifier) *Manager {
	return NewManagerWithOptions(id, notifier, ManagerOptions{DropReportInterval: defaultDropReportInterval})
}

// NewManagerWithOptions returns nil when notifier is nil; a nil *Manager
// accepts and discards events.
func NewManagerWithOptions(id Identity, notifier Notifier, opts ManagerOptions) *Manager {
	if notifier == nil {
		return nil
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		identity:           id,
		notifier:           notifier,
		logger:             opts.Logger,
		queue:              make(chan event, opts.QueueSize),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		dropReportInterval: opts.DropReportInterval,
	}
	m.wg.Add(1)
	go m.loop()
	if m.dropReportInterval > 0 {
		m.wg.Add(1)
		go m.dropReportLoop()
	}
	go func() {
		m.wg.Wait()
		close(m.done)
	}()
	return m
}

func (m *Manager) Important(name string, fields map[string]string) {
	if m == nil {
		return
	}
	ev := event{name: name, fields: cloneFields(fields), at: time.Now().UTC()}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		total := m.droppedTotal.Add(1)
		// First drop in a window is logged right away, the rest in the summary.
		if m.droppedWindow.Add(1) == 1 {
			m.logger.Warn("alert dropped", "event", "alert_queue_dropped", "target_event", name,
				"dropped_total", total, "queue_len", len(m.queue), "queue_cap", cap(m.queue))
		}
	}
}

// Alerter returns m as an Alerter, or a nil interface when m is nil.
func (m *Manager) Alerter() Alerter {
	if m == nil {
		return nil
	}
	return m
}

// Close stops accepting events and waits for the queue to drain.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.queue:
			m.send(ev)
		case <-m.stop:
			for {
				select {
				case ev := <-m.queue:
					m.send(ev)
				default:
					m.reportDropped()
					return
				}
			}
		}
	}
}

func (m *Manager) dropReportLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.dropReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reportDropped()
		case <-m.stop:
			m.reportDropped()
			return
		}
	}
}

func (m *Manager) reportDropped() {
	dropped := m.droppedWindow.Swap(0)
	if dropped == 0 {
		return
	}
	m.logger.Warn("alerts dropped", "event", "alert_queue_dropped_report", "dropped_since_last", dropped,
		"dropped_total", m.droppedTotal.Load(), "queue_len", len(m.queue), "queue_cap", cap(m.queue))
}

func (m *Manager) droppedStats() (total, window uint64) {
	return m.droppedTotal.Load(), m.droppedWindow.Load()
}

func (m *Manager) send(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := m.notifier.Notify(ctx, m.format(ev)); err != nil {
		m.logger.Error("alert notify failed", "event", "alert_notify_failed", "target_event", ev.name, "err", err)
	}
}

func (m *Manager) format(ev event) string {
	lines := []string{
		"[lighter] important",
		"time: " + ev.at.Format(time.RFC3339),
		"network: " + m.identity.Network,
		"account: " + strconv.FormatInt(m.identity.AccountIndex, 10) + "/" + strconv.Itoa(int(m.identity.APIKeyIndex)),
		"event: " + ev.name,
	}
	keys := make([]string, 0, len(ev.fields))
	for k := range ev.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+ev.fields[k])
	}
	return strings.Join(lines, "\n")
}

func cloneFields(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
