package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmsight/sync-engine/internal/store"
)

func endpointsFor(url string) map[string]string {
	out := make(map[string]string)
	for _, typ := range store.MutationTypes() {
		out[string(typ)] = url + "/" + string(typ)
	}
	return out
}

func testMutation() *store.PendingMutation {
	return &store.PendingMutation{
		ID:             "m1",
		Type:           store.MutationWatchlistAdd,
		Payload:        json.RawMessage(`{"prospectId":"p1"}`),
		IdempotencyKey: "idem-1",
		EnqueuedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewHTTP(t *testing.T) {
	t.Parallel()

	t.Run("requires a complete endpoint map", func(t *testing.T) {
		t.Parallel()

		endpoints := endpointsFor("https://api.example.com")
		delete(endpoints, string(store.MutationDataFetch))

		_, err := NewHTTP(endpoints)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "data_fetch")
	})

	t.Run("rejects unknown mutation types", func(t *testing.T) {
		t.Parallel()

		endpoints := endpointsFor("https://api.example.com")
		endpoints["bogus"] = "https://api.example.com/bogus"

		_, err := NewHTTP(endpoints)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bogus")
	})
}

func TestDeliver(t *testing.T) {
	t.Parallel()

	t.Run("posts envelope with idempotency key", func(t *testing.T) {
		t.Parallel()

		var (
			gotPath   string
			gotKey    string
			gotCT     string
			gotBody   []byte
			readError error
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotKey = r.Header.Get("Idempotency-Key")
			gotCT = r.Header.Get("Content-Type")
			gotBody, readError = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		tr, err := NewHTTP(endpointsFor(srv.URL), WithClient(srv.Client()))
		require.NoError(t, err)

		require.NoError(t, tr.Deliver(context.Background(), testMutation()))
		require.NoError(t, readError)

		assert.Equal(t, "/watchlist_add", gotPath)
		assert.Equal(t, "idem-1", gotKey)
		assert.Equal(t, "application/json", gotCT)

		var envelope map[string]any
		require.NoError(t, json.Unmarshal(gotBody, &envelope))
		assert.Equal(t, "m1", envelope["id"])
		assert.Equal(t, "watchlist_add", envelope["type"])
	})

	t.Run("non-2xx is a retriable transport error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		tr, err := NewHTTP(endpointsFor(srv.URL), WithClient(srv.Client()))
		require.NoError(t, err)

		err = tr.Deliver(context.Background(), testMutation())
		require.Error(t, err)

		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, http.StatusInternalServerError, terr.Status)
	})

	t.Run("network failure is a transport error with no status", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close() // connection refused from here on

		tr, err := NewHTTP(endpointsFor(srv.URL))
		require.NoError(t, err)

		err = tr.Deliver(context.Background(), testMutation())
		require.Error(t, err)

		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		assert.Zero(t, terr.Status)
	})
}
