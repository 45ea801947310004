package handlers

import "net/http"

// Healthz returns a handler for GET /healthz: a liveness probe that
// reports the process is up and serving, independent of any dependency
// (bitcoind, the KV store) actually being reachable. Orchestrators poll
// this rather than /api/health, which is allowed to report more detail.
func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
