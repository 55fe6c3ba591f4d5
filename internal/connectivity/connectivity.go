// Package connectivity abstracts the host's online/offline and visibility
// signals behind an observer port, so the rest of the engine never touches
// platform globals and test harnesses can inject synthetic events.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Event is a connectivity signal fanned out to subscribers
type Event string

const (
	// EventOnline fires when connectivity is regained
	EventOnline Event = "online"

	// EventOffline fires when connectivity is lost
	EventOffline Event = "offline"

	// EventVisible fires when the app surface regains visibility
	EventVisible Event = "visible"
)

// subscriberBuffer bounds each subscriber channel; a slow subscriber drops
// events rather than blocking the monitor
const subscriberBuffer = 4

// Observer is the connectivity port consumed by the sync coordinator
type Observer interface {
	// Online reports the last observed connectivity state
	Online() bool

	// Subscribe returns a channel of connectivity events. Transitions are
	// edge-triggered; the current state is not replayed.
	Subscribe() <-chan Event

	// Unsubscribe releases a subscription obtained from Subscribe
	Unsubscribe(<-chan Event)
}

// Monitor is the probe-based Observer implementation. It polls a health
// endpoint on an interval and also accepts injected signals, which is how
// non-browser harnesses and the daemon's signal handlers drive it.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu     sync.Mutex
	online bool
	subs   map[<-chan Event]chan Event

	cancel context.CancelFunc
	done   chan struct{}
}

// MonitorOption configures the monitor
type MonitorOption func(*Monitor)

// WithHTTPClient sets the probe HTTP client
func WithHTTPClient(client *http.Client) MonitorOption {
	return func(m *Monitor) {
		m.client = client
	}
}

// WithInitialState sets the assumed state before the first probe completes
func WithInitialState(online bool) MonitorOption {
	return func(m *Monitor) {
		m.online = online
	}
}

// NewMonitor creates a monitor probing probeURL every interval. An empty
// probeURL disables active probing; the monitor then changes state only
// through SetOnline.
func NewMonitor(probeURL string, interval time.Duration, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		probeURL: probeURL,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		online:   true,
		subs:     make(map[<-chan Event]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins background probing. It returns immediately; probing stops
// when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	if m.probeURL == "" {
		return
	}

	probeCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.SetOnline(m.probe(probeCtx))
		for {
			select {
			case <-ticker.C:
				m.SetOnline(m.probe(probeCtx))
			case <-probeCtx.Done():
				return
			}
		}
	}()
}

// Stop halts background probing and waits for the probe loop to exit
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// probe checks the health endpoint, retrying transient failures with
// exponential backoff before concluding the host is offline
func (m *Monitor) probe(ctx context.Context) bool {
	op := func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
		if err != nil {
			return false, backoff.Permanent(err)
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return false, fmt.Errorf("probe returned status %d", resp.StatusCode)
		}
		return true, nil
	}

	online, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		slog.Debug("Connectivity probe failed", "url", m.probeURL, "error", err)
		return false
	}
	return online
}

// Online reports the last observed connectivity state
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records a connectivity state and fans out the transition.
// Repeated states are absorbed; only edges reach subscribers.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	if online {
		slog.Info("Connectivity regained")
		m.fanout(EventOnline)
	} else {
		slog.Info("Connectivity lost")
		m.fanout(EventOffline)
	}
}

// SetVisible reports that the app surface regained visibility
func (m *Monitor) SetVisible() {
	m.fanout(EventVisible)
}

// Subscribe returns a channel of connectivity events
func (m *Monitor) Subscribe() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	m.subs[ch] = ch
	return ch
}

// Unsubscribe releases a subscription obtained from Subscribe
func (m *Monitor) Unsubscribe(ch <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(sub)
	}
}

func (m *Monitor) fanout(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		select {
		case sub <- ev:
		default:
			// Slow subscriber; the next edge will catch it up.
		}
	}
}
