// Package v0 provides the HTTP handlers serving the node snapshot.
package v0

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/node-sync/internal/api/common"
	"github.com/stacklok/node-sync/internal/nodes"
	"github.com/stacklok/node-sync/internal/store"
	"github.com/stacklok/node-sync/internal/versions"
)

// Routes serves read-only views of the store
type Routes struct {
	store store.Store
}

// NewRoutes creates a new Routes instance with the provided store
func NewRoutes(st store.Store) *Routes {
	return &Routes{store: st}
}

// Router serves the snapshot at /records and at /nodes, plus the liveness
// probe and build information. Neither of the latter touches the store.
func Router(st store.Store) http.Handler {
	routes := NewRoutes(st)

	r := chi.NewRouter()
	r.Get("/records", routes.listNodes)
	r.Get("/nodes", routes.listNodes)
	r.Get("/healthz", healthHandler)
	r.Get("/version", versionHandler)

	return r
}

// listNodes returns the full snapshot. A store failure is a 500 with no body.
func (rr *Routes) listNodes(w http.ResponseWriter, r *http.Request) {
	result, err := rr.store.ListAll(r.Context())
	if err != nil {
		slog.Error("Failed to list nodes", "error", err, "path", r.URL.Path)
		common.WriteEmptyResponse(w, http.StatusInternalServerError)
		return
	}
	if result == nil {
		result = []nodes.Node{}
	}

	common.WriteJSONResponse(w, result, http.StatusOK)
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}
