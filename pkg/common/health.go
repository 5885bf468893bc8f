package common

import (
	"net/http"
	"sync/atomic"
	"time"
)

// HealthServer exposes liveness and readiness endpoints for process
// supervisors. Liveness always succeeds while the process is running;
// readiness flips once the service has finished wiring its dependencies.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer builds a health server bound to the default port. The
// caller starts it via Server().ListenAndServe. The provided ready flag is
// shared with the owning service.
func NewHealthServer(ready *atomic.Bool) *HealthServer {
	hs := &HealthServer{ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", hs.health)
	mux.HandleFunc("/v1/readiness", hs.readiness)

	hs.server = &http.Server{
		Addr:         ":8081",
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	return hs
}

// Server returns the underlying HTTP server for shutdown control.
func (hs *HealthServer) Server() *http.Server { return hs.server }

func (hs *HealthServer) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (hs *HealthServer) readiness(w http.ResponseWriter, r *http.Request) {
	if hs.ready == nil || !hs.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
