package v0

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/farmsight/sync-engine/internal/connectivity"
	"github.com/farmsight/sync-engine/internal/offline"
	"github.com/farmsight/sync-engine/internal/store"
	syncer "github.com/farmsight/sync-engine/internal/sync"
	transportmocks "github.com/farmsight/sync-engine/internal/transport/mocks"
)

// newTestServer assembles the handler stack on a real store with an
// offline observer, so handlers exercise the same code paths the daemon
// wires together.
func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.SchemaVersion)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	ctrl := gomock.NewController(t)
	observer := connectivity.NewMonitor("", time.Minute, connectivity.WithInitialState(false))
	coordinator := syncer.New(db, transportmocks.NewMockTransport(ctrl), observer)
	svc := offline.NewService(db, coordinator)

	srv := httptest.NewServer(Router(Deps{
		Offline: svc,
		Sync:    coordinator,
		Letters: db,
	}))
	t.Cleanup(srv.Close)
	return srv, db
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestGetStatus(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decode[syncer.Status](t, resp)
	assert.False(t, status.IsSyncing)
	assert.False(t, status.IsOnline)
	assert.Zero(t, status.PendingCount)
}

func TestTriggerSync(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/sync", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestWatchlistEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	t.Run("empty list is an empty array", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/watchlist", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[[]store.WatchlistEntry](t, resp))
	})

	t.Run("add requires a prospect id", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/watchlist", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("add then list then remove", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/watchlist", map[string]string{"prospectId": "p1"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/watchlist", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		entries := decode[[]store.WatchlistEntry](t, resp)
		require.Len(t, entries, 1)
		assert.Equal(t, "p1", entries[0].ProspectID)

		resp = doJSON(t, http.MethodDelete, srv.URL+"/watchlist/p1", nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/watchlist", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[[]store.WatchlistEntry](t, resp))
	})
}

func TestComparisonEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	t.Run("rejects fewer than two prospects", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/comparisons",
			map[string]any{"prospectIds": []string{"p1"}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("create and list", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/comparisons",
			map[string]any{"prospectIds": []string{"p1", "p2"}})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		created := decode[store.Comparison](t, resp)
		assert.NotEmpty(t, created.ID)

		resp = doJSON(t, http.MethodGet, srv.URL+"/comparisons", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		listed := decode[[]store.Comparison](t, resp)
		require.Len(t, listed, 1)
		assert.Equal(t, created.ID, listed[0].ID)
	})

	t.Run("list honors limit", func(t *testing.T) {
		for range 2 {
			resp := doJSON(t, http.MethodPost, srv.URL+"/comparisons",
				map[string]any{"prospectIds": []string{"p3", "p4"}})
			require.Equal(t, http.StatusCreated, resp.StatusCode)
		}

		resp := doJSON(t, http.MethodGet, srv.URL+"/comparisons?limit=1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		listed := decode[[]store.Comparison](t, resp)
		assert.Len(t, listed, 1)
	})

	t.Run("rejects a non-positive limit", func(t *testing.T) {
		for _, raw := range []string{"0", "-1", "many"} {
			resp := doJSON(t, http.MethodGet, srv.URL+"/comparisons?limit="+raw, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		}
	})
}

func TestPreferenceEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	t.Run("missing preference is 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/preferences/theme", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("put requires a value", func(t *testing.T) {
		resp := doJSON(t, http.MethodPut, srv.URL+"/preferences/theme", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("put then get", func(t *testing.T) {
		resp := doJSON(t, http.MethodPut, srv.URL+"/preferences/theme",
			map[string]any{"value": "dark"})
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		resp = doJSON(t, http.MethodGet, srv.URL+"/preferences/theme", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		pref := decode[map[string]json.RawMessage](t, resp)
		assert.JSONEq(t, `"dark"`, string(pref["value"]))
	})
}

func TestCacheEndpoints(t *testing.T) {
	t.Parallel()
	srv, db := newTestServer(t)

	resp := doJSON(t, http.MethodPut, srv.URL+"/cache/prospects", []map[string]any{
		{"id": "p1", "name": "Jesus Made"},
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, srv.URL+"/cache/rankings", []map[string]any{
		{"prospectId": "p1", "rank": 1},
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	p, err := db.GetProspect(t.Context(), "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Jesus Made", p.Name)

	resp = doJSON(t, http.MethodPut, srv.URL+"/cache/prospects", map[string]string{"not": "an array"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeadLetterEndpoint(t *testing.T) {
	t.Parallel()
	srv, db := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/deadletters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]store.DeadLetter](t, resp))

	m := &store.PendingMutation{
		ID: "m1", Type: store.MutationWatchlistAdd,
		Payload: json.RawMessage(`{}`), RetryCount: 4,
	}
	require.NoError(t, db.AppendMutation(t.Context(), m))
	require.NoError(t, db.MoveToDeadLetter(t.Context(), m, "transport: unexpected status 500"))

	resp = doJSON(t, http.MethodGet, srv.URL+"/deadletters", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	letters := decode[[]store.DeadLetter](t, resp)
	require.Len(t, letters, 1)
	assert.Equal(t, "m1", letters[0].ID)
}

func TestClearAllEndpoint(t *testing.T) {
	t.Parallel()
	srv, db := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/watchlist", map[string]string{"prospectId": "p1"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/data", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	count, err := db.PendingCount(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestWorkerEndpointsWithoutWorker(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/worker"},
		{http.MethodPost, "/worker/skip-waiting"},
		{http.MethodPost, "/worker/update"},
	} {
		resp := doJSON(t, tc.method, srv.URL+tc.path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestHealthRouter(t *testing.T) {
	t.Parallel()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"), store.SchemaVersion)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	ctrl := gomock.NewController(t)
	observer := connectivity.NewMonitor("", time.Minute)
	coordinator := syncer.New(db, transportmocks.NewMockTransport(ctrl), observer)
	svc := offline.NewService(db, coordinator)

	srv := httptest.NewServer(HealthRouter(Deps{Offline: svc, Sync: coordinator, Letters: db}))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readiness")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
