package http

import (
	"net/http"
	"time"

	"github.com/anamul94/DietGuard/internal/identity/store"
	"github.com/anamul94/DietGuard/pkg/authsdk"
	"github.com/anamul94/DietGuard/pkg/httpx"
)

// DegradedReporter is implemented by components that can fall behind
// without taking the service down, like the audit writer.
type DegradedReporter interface {
	Degraded() bool
}

// LivezHandler godoc
//
//	@Summary		Liveness check
//	@Description	Returns 200 whenever the process is serving.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version"
//	@Router			/livez [get].
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler godoc
//
//	@Summary		Readiness check
//	@Description	503 while the database is unreachable. A degraded audit log is
//	@Description	reported but keeps the instance in rotation.
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	authsdk.HealthResponse	"status, uptime, version, checks"
//	@Failure		503	{object}	authsdk.HealthResponse	"database unavailable"
//	@Router			/readyz [get].
func ReadyzHandler(startTime time.Time, version string, st store.Store, audit DegradedReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"database": "ok"}
		status := "ok"
		code := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks["database"] = "error: " + err.Error()
			status = "unavailable"
			code = http.StatusServiceUnavailable
		}

		if audit != nil {
			checks["audit"] = "ok"
			if audit.Degraded() {
				checks["audit"] = "degraded"
				if code == http.StatusOK {
					status = "degraded"
				}
			}
		}

		httpx.WriteJSON(w, code, authsdk.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
