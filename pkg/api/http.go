package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"emberline/pkg/api/handlers"
	"emberline/pkg/store"
)

// Handler assembles the router: versioned JSON endpoints, the websocket
// handshake, attachment downloads and the liveness/readiness probes.
func Handler(a *handlers.API) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	a.Register(r)

	if a.UploadsDir != "" {
		r.PathPrefix("/uploads/").Handler(a.ServeUploads()).Methods(http.MethodGet)
	}

	return r
}
