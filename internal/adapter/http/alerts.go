package http

import (
	"net/http"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/weather-alerts-service/internal/pipeline"
)

// SnapshotSource provides the current presentation snapshot.
type SnapshotSource interface {
	Snapshot() pipeline.Snapshot
}

// AlertsHandler serves the latest alert snapshot as JSON. A hidden snapshot
// is still returned with 200; the client decides how to render it.
func AlertsHandler(source SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		sharedobs.WriteJSON(w, http.StatusOK, source.Snapshot())
	}
}
