package connectivity

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"mirsal/pkg/logger"

	"go.uber.org/zap"
)

// Source is the boolean "is the device online" signal plus transition
// subscriptions, so tests can inject synthetic online/offline flips without
// touching a real network.
type Source interface {
	IsOnline() bool
	Subscribe() *Subscription
}

type Subscription struct {
	// C delivers the new online state on each transition.
	C      chan bool
	m      *Monitor
	closed bool
}

func (s *Subscription) Unsubscribe() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(s.m.subs, s)
	close(s.C)
}

// Monitor probes a URL on an interval and publishes online/offline
// transitions to subscribers. With no probe URL configured it stays in
// whatever state SetOnline puts it in (initially online).
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	online atomic.Bool

	mu   sync.Mutex
	subs map[*Subscription]bool
}

func NewMonitor(probeURL string, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		subs:     make(map[*Subscription]bool),
	}
	m.online.Store(true)
	return m
}

func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

func (m *Monitor) Subscribe() *Subscription {
	sub := &Subscription{C: make(chan bool, 4), m: m}
	m.mu.Lock()
	m.subs[sub] = true
	m.mu.Unlock()
	return sub
}

// SetOnline flips the state and notifies subscribers on a transition. Used
// by the probe loop and directly by tests.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	if online {
		logger.Info("connectivity restored")
	} else {
		logger.Warn("connectivity lost")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		select {
		case sub.C <- online:
		default:
			logger.Warn("connectivity subscriber too slow, transition dropped")
		}
	}
}

func (m *Monitor) Run(ctx context.Context) {
	if m.probeURL == "" {
		logger.Info("connectivity monitor idle, no probe url configured")
		return
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	logger.Info("connectivity monitor started",
		zap.String("probe_url", m.probeURL),
		zap.Duration("interval", m.interval))

	m.SetOnline(m.probe(ctx))
	for {
		select {
		case <-ctx.Done():
			logger.Info("connectivity monitor stopped")
			return
		case <-ticker.C:
			m.SetOnline(m.probe(ctx))
		}
	}
}

// probe counts any HTTP response as reachable; only transport-level failure
// means offline.
func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
