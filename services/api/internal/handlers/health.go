package handlers

import (
	"net/http"
	"os"

	"openpix/pixelpost/services/api/internal/httpHelpers"
)

// Health reports liveness for this worker. A worker only serves after
// readiness was granted, so reaching this handler implies the database
// connection is up.
func (env *Env) Health(w http.ResponseWriter, r *http.Request) {
	httpHelpers.WriteOutput(w, map[string]any{
		"status": "ok",
		"worker": env.WorkerIndex,
		"pid":    os.Getpid(),
	})
}

// Test is a plain echo endpoint used by smoke checks.
func (env *Env) Test(w http.ResponseWriter, r *http.Request) {
	httpHelpers.WriteOutput(w, map[string]any{
		"msg":    "pixelpost api is live",
		"worker": env.WorkerIndex,
	})
}
