// Package v0 provides the REST API handlers for the sync engine.
package v0

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/farmsight/sync-engine/internal/offline"
	"github.com/farmsight/sync-engine/internal/store"
	syncer "github.com/farmsight/sync-engine/internal/sync"
	"github.com/farmsight/sync-engine/internal/worker"
)

// SyncController is the coordinator surface the API exposes
type SyncController interface {
	Status() syncer.Status
	TriggerSync()
}

// DeadLetterReader lists mutations that permanently failed delivery
type DeadLetterReader interface {
	DeadLetters(ctx context.Context) ([]*store.DeadLetter, error)
}

// WorkerController is the lifecycle surface the API exposes; nil when no
// worker is configured
type WorkerController interface {
	State() worker.State
	UpdateAvailable() bool
	SkipWaiting() error
	CheckForUpdate() error
}

// Deps bundles the dependencies injected into the handlers
type Deps struct {
	Offline *offline.Service
	Sync    SyncController
	Letters DeadLetterReader
	Worker  WorkerController
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// Routes defines the routes for the sync API with dependency injection
type Routes struct {
	deps Deps
}

// NewRoutes creates a new Routes instance with the provided dependencies
func NewRoutes(deps Deps) *Routes {
	return &Routes{deps: deps}
}

// Router creates a new router for the sync API
func Router(deps Deps) http.Handler {
	routes := NewRoutes(deps)

	r := chi.NewRouter()

	r.Get("/status", routes.getStatus)
	r.Post("/sync", routes.triggerSync)

	r.Get("/watchlist", routes.listWatchlist)
	r.Post("/watchlist", routes.addToWatchlist)
	r.Delete("/watchlist/{prospectID}", routes.removeFromWatchlist)

	r.Get("/comparisons", routes.listComparisons)
	r.Post("/comparisons", routes.createComparison)

	r.Get("/preferences/{key}", routes.getPreference)
	r.Put("/preferences/{key}", routes.putPreference)

	r.Put("/cache/prospects", routes.cacheProspects)
	r.Put("/cache/rankings", routes.cacheRankings)

	r.Get("/deadletters", routes.listDeadLetters)
	r.Delete("/data", routes.clearAll)

	r.Get("/worker", routes.getWorker)
	r.Post("/worker/skip-waiting", routes.skipWaiting)
	r.Post("/worker/update", routes.checkForUpdate)

	return r
}

// getStatus handles GET /v0/status
func (rr *Routes) getStatus(w http.ResponseWriter, _ *http.Request) {
	rr.writeJSONResponse(w, rr.deps.Sync.Status())
}

// triggerSync handles POST /v0/sync. The trigger is asynchronous; callers
// poll /v0/status for progress.
func (rr *Routes) triggerSync(w http.ResponseWriter, _ *http.Request) {
	rr.deps.Sync.TriggerSync()
	w.WriteHeader(http.StatusAccepted)
}

type watchlistRequest struct {
	ProspectID string `json:"prospectId"`
}

// listWatchlist handles GET /v0/watchlist
func (rr *Routes) listWatchlist(w http.ResponseWriter, r *http.Request) {
	entries, err := rr.deps.Offline.Watchlist(r.Context())
	if err != nil {
		rr.writeStorageError(w, "Failed to list watchlist", err)
		return
	}
	if entries == nil {
		entries = []*store.WatchlistEntry{}
	}
	rr.writeJSONResponse(w, entries)
}

// addToWatchlist handles POST /v0/watchlist
func (rr *Routes) addToWatchlist(w http.ResponseWriter, r *http.Request) {
	var req watchlistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProspectID == "" {
		rr.writeErrorResponse(w, "Request body must carry a prospectId", http.StatusBadRequest)
		return
	}
	if err := rr.deps.Offline.AddToWatchlist(r.Context(), req.ProspectID); err != nil {
		rr.writeStorageError(w, "Failed to add to watchlist", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// removeFromWatchlist handles DELETE /v0/watchlist/{prospectID}
func (rr *Routes) removeFromWatchlist(w http.ResponseWriter, r *http.Request) {
	prospectID := chi.URLParam(r, "prospectID")
	if err := rr.deps.Offline.RemoveFromWatchlist(r.Context(), prospectID); err != nil {
		rr.writeStorageError(w, "Failed to remove from watchlist", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type comparisonRequest struct {
	ProspectIDs []string `json:"prospectIds"`
}

// defaultComparisonLimit bounds GET /v0/comparisons when no limit is given.
const defaultComparisonLimit = 20

// listComparisons handles GET /v0/comparisons?limit=n
func (rr *Routes) listComparisons(w http.ResponseWriter, r *http.Request) {
	limit := defaultComparisonLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			rr.writeErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	comparisons, err := rr.deps.Offline.RecentComparisons(r.Context(), limit)
	if err != nil {
		rr.writeStorageError(w, "Failed to list comparisons", err)
		return
	}
	if comparisons == nil {
		comparisons = []*store.Comparison{}
	}
	rr.writeJSONResponse(w, comparisons)
}

// createComparison handles POST /v0/comparisons
func (rr *Routes) createComparison(w http.ResponseWriter, r *http.Request) {
	var req comparisonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Request body must carry prospectIds", http.StatusBadRequest)
		return
	}
	c, err := rr.deps.Offline.SaveComparison(r.Context(), req.ProspectIDs)
	if err != nil {
		if store.IsKind(err, store.KindQuotaExceeded) || store.IsKind(err, store.KindTransactionFailed) || store.IsKind(err, store.KindOpenFailed) {
			rr.writeStorageError(w, "Failed to save comparison", err)
			return
		}
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(c); err != nil {
		slog.Error("Failed to encode comparison response", "error", err)
	}
}

type preferenceRequest struct {
	Value json.RawMessage `json:"value"`
}

type preferenceResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// getPreference handles GET /v0/preferences/{key}
func (rr *Routes) getPreference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := rr.deps.Offline.Preference(r.Context(), key)
	if err != nil {
		rr.writeStorageError(w, "Failed to read preference", err)
		return
	}
	if value == nil {
		rr.writeErrorResponse(w, "Preference not found", http.StatusNotFound)
		return
	}
	rr.writeJSONResponse(w, preferenceResponse{Key: key, Value: value})
}

// putPreference handles PUT /v0/preferences/{key}
func (rr *Routes) putPreference(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Value) == 0 {
		rr.writeErrorResponse(w, "Request body must carry a value", http.StatusBadRequest)
		return
	}
	if err := rr.deps.Offline.UpdatePreference(r.Context(), key, req.Value); err != nil {
		rr.writeStorageError(w, "Failed to update preference", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// cacheProspects handles PUT /v0/cache/prospects, ingesting fresher server
// data into the local cache
func (rr *Routes) cacheProspects(w http.ResponseWriter, r *http.Request) {
	var prospects []*store.Prospect
	if err := json.NewDecoder(r.Body).Decode(&prospects); err != nil {
		rr.writeErrorResponse(w, "Request body must be a prospect array", http.StatusBadRequest)
		return
	}
	if err := rr.deps.Offline.CacheProspects(r.Context(), prospects); err != nil {
		rr.writeStorageError(w, "Failed to cache prospects", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cacheRankings handles PUT /v0/cache/rankings
func (rr *Routes) cacheRankings(w http.ResponseWriter, r *http.Request) {
	var entries []store.RankedEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		rr.writeErrorResponse(w, "Request body must be a ranked entry array", http.StatusBadRequest)
		return
	}
	if err := rr.deps.Offline.CacheRankings(r.Context(), entries); err != nil {
		rr.writeStorageError(w, "Failed to cache rankings", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listDeadLetters handles GET /v0/deadletters
func (rr *Routes) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := rr.deps.Letters.DeadLetters(r.Context())
	if err != nil {
		rr.writeStorageError(w, "Failed to list dead letters", err)
		return
	}
	if letters == nil {
		letters = []*store.DeadLetter{}
	}
	rr.writeJSONResponse(w, letters)
}

// clearAll handles DELETE /v0/data, wiping local data and the pending queue
func (rr *Routes) clearAll(w http.ResponseWriter, r *http.Request) {
	if err := rr.deps.Offline.ClearAll(r.Context()); err != nil {
		rr.writeStorageError(w, "Failed to clear local data", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type workerResponse struct {
	State           string `json:"state"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

// getWorker handles GET /v0/worker
func (rr *Routes) getWorker(w http.ResponseWriter, _ *http.Request) {
	if rr.deps.Worker == nil {
		rr.writeErrorResponse(w, "No worker configured", http.StatusNotFound)
		return
	}
	rr.writeJSONResponse(w, workerResponse{
		State:           string(rr.deps.Worker.State()),
		UpdateAvailable: rr.deps.Worker.UpdateAvailable(),
	})
}

// skipWaiting handles POST /v0/worker/skip-waiting, the explicit user
// acceptance that activates a waiting update
func (rr *Routes) skipWaiting(w http.ResponseWriter, _ *http.Request) {
	if rr.deps.Worker == nil {
		rr.writeErrorResponse(w, "No worker configured", http.StatusNotFound)
		return
	}
	if err := rr.deps.Worker.SkipWaiting(); err != nil {
		if errors.Is(err, worker.ErrNoWaitingWorker) {
			rr.writeErrorResponse(w, "No update is waiting", http.StatusConflict)
			return
		}
		rr.writeErrorResponse(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// checkForUpdate handles POST /v0/worker/update
func (rr *Routes) checkForUpdate(w http.ResponseWriter, _ *http.Request) {
	if rr.deps.Worker == nil {
		rr.writeErrorResponse(w, "No worker configured", http.StatusNotFound)
		return
	}
	if err := rr.deps.Worker.CheckForUpdate(); err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HealthRouter creates a router for health check endpoints
func HealthRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(deps))

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessHandler reports ready once local storage answers queries
func readinessHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := deps.Offline.Watchlist(r.Context()); err != nil {
			errorResp := ErrorResponse{
				Error: "Store not ready: " + err.Error(),
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			if encodeErr := json.NewEncoder(w).Encode(errorResp); encodeErr != nil {
				slog.Error("Failed to encode readiness error response", "error", encodeErr)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}

// writeStorageError maps storage failures onto HTTP statuses; quota
// exhaustion surfaces as 507 so the client can prompt the user to clear data
func (rr *Routes) writeStorageError(w http.ResponseWriter, message string, err error) {
	slog.Error(message, "error", err)

	status := http.StatusInternalServerError
	if store.IsKind(err, store.KindQuotaExceeded) {
		status = http.StatusInsufficientStorage
	}
	rr.writeErrorResponse(w, message, status)
}
