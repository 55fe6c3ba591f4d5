// Package worker manages the background worker lifecycle: registration,
// versioned updates and activation, plus the single typed message channel
// between the app and the worker context.
//
// The worker runs in an isolated context reachable only by message passing;
// this manager is the sole sender and receiver of control messages, which
// keeps the app-side view of worker state single-threaded.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// State is a worker lifecycle state
type State string

const (
	// StateUnregistered means no worker has been registered
	StateUnregistered State = "unregistered"

	// StateRegistering means registration is in flight
	StateRegistering State = "registering"

	// StateInstalled means a worker version is installed and waiting;
	// it does not control the app until explicitly activated
	StateInstalled State = "installed"

	// StateActivated means a worker version controls the app
	StateActivated State = "activated"

	// StateRedundant means the worker has been unregistered
	StateRedundant State = "redundant"
)

var (
	// ErrUnsupported means the host cannot run a background worker;
	// callers degrade to online-only behavior and nothing else blocks
	ErrUnsupported = errors.New("background worker unsupported on this host")

	// ErrInvalidTransition means the requested lifecycle transition is not
	// legal from the current state
	ErrInvalidTransition = errors.New("invalid worker state transition")

	// ErrNoWaitingWorker means activation was requested with no installed
	// version waiting
	ErrNoWaitingWorker = errors.New("no waiting worker version to activate")
)

// MessageKind tags a control message. The set is closed; dispatch is
// exhaustive over it.
type MessageKind string

const (
	// KindSyncStart asks the worker to run a background sync pass
	KindSyncStart MessageKind = "SYNC_START"

	// KindSyncComplete reports a finished background sync pass
	KindSyncComplete MessageKind = "SYNC_COMPLETE"

	// KindCacheUpdated reports that the worker refreshed cached data
	KindCacheUpdated MessageKind = "CACHE_UPDATED"

	// KindSkipWaiting tells the waiting worker version to take control
	KindSkipWaiting MessageKind = "SKIP_WAITING"

	// KindCacheURLs asks the worker to pre-cache the given URLs
	KindCacheURLs MessageKind = "CACHE_URLS"
)

// Message is one control message on the app/worker channel
type Message struct {
	Kind    MessageKind     `json:"kind"`
	Tag     string          `json:"tag,omitempty"`
	URLs    []string        `json:"urls,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// messageBuffer bounds both directions of the control channel
const messageBuffer = 16

// Manager drives the worker lifecycle state machine
type Manager struct {
	script         string
	scope          string
	updateInterval time.Duration

	mu          sync.Mutex
	state       State
	activeHash  string
	waitingHash string

	toApp    chan Message
	toWorker chan Message

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a lifecycle manager for the worker artifact at script,
// claiming scope. The artifact is re-checked every updateInterval.
func NewManager(script, scope string, updateInterval time.Duration) *Manager {
	return &Manager{
		script:         script,
		scope:          scope,
		updateInterval: updateInterval,
		state:          StateUnregistered,
		toApp:          make(chan Message, messageBuffer),
		toWorker:       make(chan Message, messageBuffer),
	}
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Scope returns the scope the worker claims
func (m *Manager) Scope() string {
	return m.scope
}

// Register installs the worker artifact and begins periodic update checks.
// The installed version waits; it takes control only through SkipWaiting.
// A missing artifact means the host cannot run the worker: ErrUnsupported
// is returned and offline features degrade to online-only.
func (m *Manager) Register(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUnregistered {
		m.mu.Unlock()
		return fmt.Errorf("%w: register from %s", ErrInvalidTransition, m.state)
	}
	m.state = StateRegistering
	m.mu.Unlock()

	slog.Info("Registering background worker", "script", m.script, "scope", m.scope)

	hash, err := m.hashArtifact()
	if err != nil {
		m.mu.Lock()
		m.state = StateUnregistered
		m.mu.Unlock()
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Worker artifact not found, degrading to online-only", "script", m.script)
			return ErrUnsupported
		}
		return fmt.Errorf("failed to read worker artifact: %w", err)
	}

	m.mu.Lock()
	m.waitingHash = hash
	m.state = StateInstalled
	m.mu.Unlock()

	slog.Info("Background worker installed", "version", shortHash(hash))

	pollCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.pollForUpdates(pollCtx)

	return nil
}

// SkipWaiting explicitly promotes the waiting worker version to control.
// Activation is never silent: swapping code under an open tab can break
// in-flight requests, so the owner must opt in.
func (m *Manager) SkipWaiting() error {
	m.mu.Lock()
	if m.state != StateInstalled && m.state != StateActivated {
		m.mu.Unlock()
		return fmt.Errorf("%w: skipWaiting from %s", ErrInvalidTransition, m.state)
	}
	if m.waitingHash == "" {
		m.mu.Unlock()
		return ErrNoWaitingWorker
	}
	m.activeHash = m.waitingHash
	m.waitingHash = ""
	m.state = StateActivated
	active := m.activeHash
	m.mu.Unlock()

	slog.Info("Background worker activated", "version", shortHash(active))
	m.send(m.toWorker, Message{Kind: KindSkipWaiting})
	return nil
}

// Unregister retires the worker from any state and stops update polling
func (m *Manager) Unregister() error {
	m.mu.Lock()
	if m.state == StateRedundant {
		m.mu.Unlock()
		return nil
	}
	m.state = StateRedundant
	m.activeHash = ""
	m.waitingHash = ""
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	slog.Info("Background worker unregistered")
	return nil
}

// UpdateAvailable reports whether a new worker version is installed and
// waiting for activation
func (m *Manager) UpdateAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateActivated && m.waitingHash != ""
}

// CheckForUpdate re-hashes the worker artifact and parks a changed version
// in the waiting slot. It never activates anything by itself.
func (m *Manager) CheckForUpdate() error {
	hash, err := m.hashArtifact()
	if err != nil {
		return fmt.Errorf("failed to check worker artifact: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInstalled && m.state != StateActivated {
		return nil
	}
	if hash == m.activeHash || hash == m.waitingHash {
		return nil
	}

	m.waitingHash = hash
	if m.state == StateActivated {
		slog.Info("New worker version found, waiting for activation", "version", shortHash(hash))
	} else {
		slog.Info("Installed worker version replaced before activation", "version", shortHash(hash))
	}
	return nil
}

// pollForUpdates re-checks the artifact on the update interval. Failures
// are logged and retried next interval, never escalated to the user.
func (m *Manager) pollForUpdates(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.CheckForUpdate(); err != nil {
				slog.Debug("Worker update check failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RequestBackgroundSync asks the activated worker to run a sync pass for
// the given tag. Without an activated worker the request is unsupported
// and the caller falls back to foreground triggers.
func (m *Manager) RequestBackgroundSync(tag string) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state != StateActivated {
		return ErrUnsupported
	}
	m.send(m.toWorker, Message{Kind: KindSyncStart, Tag: tag})
	return nil
}

// CacheURLs asks the activated worker to pre-cache the given URLs
func (m *Manager) CacheURLs(urls []string) error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state != StateActivated {
		return ErrUnsupported
	}
	m.send(m.toWorker, Message{Kind: KindCacheURLs, URLs: urls})
	return nil
}

// Messages returns the app-side end of the control channel. The sync
// coordinator consumes it for background-sync and cache notifications.
func (m *Manager) Messages() <-chan Message {
	return m.toApp
}

// WorkerMessages returns the worker-side end of the control channel
func (m *Manager) WorkerMessages() <-chan Message {
	return m.toWorker
}

// Deliver hands a message from the worker context to the manager. Dispatch
// is exhaustive over the closed kind set; kinds the worker may not send are
// rejected rather than dropped.
func (m *Manager) Deliver(msg Message) error {
	switch msg.Kind {
	case KindSyncComplete:
		slog.Debug("Worker reported sync complete", "tag", msg.Tag)
		m.send(m.toApp, msg)
		return nil
	case KindCacheUpdated:
		slog.Debug("Worker reported cache update")
		m.send(m.toApp, msg)
		return nil
	case KindSyncStart:
		// Background-sync fired inside the worker; surface it so the
		// coordinator can drain.
		m.send(m.toApp, msg)
		return nil
	case KindSkipWaiting, KindCacheURLs:
		return fmt.Errorf("message kind %q is app-to-worker only", msg.Kind)
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}

// send never blocks the lifecycle on a slow consumer
func (m *Manager) send(ch chan Message, msg Message) {
	select {
	case ch <- msg:
	default:
		slog.Debug("Dropping worker message, channel full", "kind", msg.Kind)
	}
}

func (m *Manager) hashArtifact() (string, error) {
	data, err := os.ReadFile(m.script)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
