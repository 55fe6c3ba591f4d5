// Package transport defines the remote delivery contract for pending
// mutations and its HTTP implementation.
//
// The contract with the server is deliberately thin: one endpoint per
// mutation type, JSON body, any 2xx is success and every other outcome is a
// retriable failure. No per-endpoint retry policy is negotiated; the sync
// coordinator applies one backoff policy to all types. Server handlers are
// assumed idempotent per resource, which the persisted idempotency key
// carried on every request lets them implement cheaply.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/farmsight/sync-engine/internal/store"
)

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks -source=transport.go Transport

// Transport delivers a pending mutation to the remote collaborator
type Transport interface {
	// Deliver attempts delivery of one mutation. A nil return confirms the
	// remote effect; a TransportError is retriable.
	Deliver(ctx context.Context, m *store.PendingMutation) error
}

// TransportError is a retriable network or HTTP failure
//
//nolint:revive // This name is fine
type TransportError struct {
	// Status is the HTTP status code, or zero for network-level failures
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// deliveryEnvelope is the JSON body posted for every mutation
type deliveryEnvelope struct {
	ID         string             `json:"id"`
	Type       store.MutationType `json:"type"`
	Payload    json.RawMessage    `json:"payload"`
	EnqueuedAt time.Time          `json:"enqueuedAt"`
}

// httpTransport implements Transport over per-type HTTP endpoints
type httpTransport struct {
	client    *http.Client
	endpoints map[store.MutationType]string
}

// Option configures the HTTP transport
type Option func(*httpTransport)

// WithClient sets the HTTP client used for delivery
func WithClient(client *http.Client) Option {
	return func(t *httpTransport) {
		t.client = client
	}
}

// WithTimeout bounds a single delivery attempt
func WithTimeout(d time.Duration) Option {
	return func(t *httpTransport) {
		t.client.Timeout = d
	}
}

// NewHTTP creates an HTTP transport from a complete endpoint map. Every
// mutation type must have an endpoint; a partial map is a config error
// caught here rather than at delivery time.
func NewHTTP(endpoints map[string]string, opts ...Option) (Transport, error) {
	mapped := make(map[store.MutationType]string, len(endpoints))
	for name, endpoint := range endpoints {
		typ := store.MutationType(name)
		if !typ.Valid() {
			return nil, fmt.Errorf("unknown mutation type %q", name)
		}
		mapped[typ] = endpoint
	}
	for _, typ := range store.MutationTypes() {
		if _, ok := mapped[typ]; !ok {
			return nil, fmt.Errorf("no endpoint configured for mutation type %q", typ)
		}
	}

	t := &httpTransport{
		client:    &http.Client{Timeout: 30 * time.Second},
		endpoints: mapped,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Deliver posts the mutation to its type's endpoint
func (t *httpTransport) Deliver(ctx context.Context, m *store.PendingMutation) error {
	endpoint, ok := t.endpoints[m.Type]
	if !ok {
		return fmt.Errorf("no endpoint configured for mutation type %q", m.Type)
	}

	body, err := json.Marshal(deliveryEnvelope{
		ID:         m.ID,
		Type:       m.Type,
		Payload:    m.Payload,
		EnqueuedAt: m.EnqueuedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal mutation %s: %w", m.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for mutation %s: %w", m.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", m.IdempotencyKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Status: resp.StatusCode}
	}
	return nil
}
