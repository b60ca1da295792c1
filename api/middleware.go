package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// REQUEST HEADERS
// =============================================================================

// Authentication happens in front of this service; the gateway forwards the
// caller's identity in these headers.
const (
	HeaderOrganisation  = "X-Organisation-ID"
	HeaderActor         = "X-Actor-ID"
	HeaderPlatformAdmin = "X-Platform-Admin"
)

// tenantFrom builds the request's tenant. A platform administrator may omit
// the organisation.
func tenantFrom(r *http.Request) (generic.Tenant, error) {
	tenant := generic.Tenant{
		OrganisationID: generic.OrganisationID(strings.TrimSpace(r.Header.Get(HeaderOrganisation))),
	}
	if raw := r.Header.Get(HeaderPlatformAdmin); raw != "" {
		admin, err := strconv.ParseBool(raw)
		if err != nil {
			return generic.Tenant{}, generic.Invalid(HeaderPlatformAdmin, "must be true or false, got %q", raw)
		}
		tenant.PlatformAdmin = admin
	}
	if err := tenant.Validate(); err != nil {
		return generic.Tenant{}, generic.Invalid(HeaderOrganisation, "header is required")
	}
	return tenant, nil
}

// actorFrom returns the acting user, required on every write.
func actorFrom(r *http.Request) (generic.ActorID, error) {
	actor := strings.TrimSpace(r.Header.Get(HeaderActor))
	if actor == "" {
		return "", generic.Invalid(HeaderActor, "header is required")
	}
	return generic.ActorID(actor), nil
}

// =============================================================================
// REQUEST LOGGING
// =============================================================================

// requestLogger logs one line per request with chi's request id.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("organisation_id", r.Header.Get(HeaderOrganisation)),
			}
			switch {
			case status >= 500:
				log.Error("request failed", fields...)
			case status >= 400:
				log.Info("request rejected", fields...)
			default:
				log.Info("request handled", fields...)
			}
		})
	}
}
