package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	audithttp "github.com/odyssey-erp/hardware-ledger/internal/audit/http"
	"github.com/odyssey-erp/hardware-ledger/internal/auth"
	"github.com/odyssey-erp/hardware-ledger/internal/catalog"
	"github.com/odyssey-erp/hardware-ledger/internal/ledger"
	"github.com/odyssey-erp/hardware-ledger/internal/observability"
	"github.com/odyssey-erp/hardware-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/hardware-ledger/internal/posting"
	"github.com/odyssey-erp/hardware-ledger/internal/rbac"
	"github.com/odyssey-erp/hardware-ledger/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Auth               *auth.Service
	CatalogHandler     *catalog.Handler
	DocumentHandler    *posting.Handler
	LedgerHandler      *ledger.Handler
	AuditHandler       *audithttp.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Database           Pinger
	Cache              Pinger
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := map[string]string{"status": "ok"}
		status := http.StatusOK
		if params.Database != nil {
			up := params.Database.Ping(ctx) == nil
			params.Metrics.SetDependency(observability.DependencyDatabase, up)
			if !up {
				body["status"] = "degraded"
				body["database"] = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		// Documents fall back to postgres without the cache, so it never fails the probe.
		if params.Cache != nil {
			up := params.Cache.Ping(ctx) == nil
			params.Metrics.SetDependency(observability.DependencyRedis, up)
			body["cache"] = "ok"
			if !up {
				body["cache"] = "unreachable"
			}
		}
		httpx.JSON(w, status, body)
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.Auth != nil {
			r.Use(auth.Middleware(params.Auth, params.Logger))
		}
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(r)
		}
		if params.DocumentHandler != nil {
			params.DocumentHandler.MountRoutes(r)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
		if params.PermissionsHandler != nil {
			params.PermissionsHandler.MountRoutes(r)
		}
	})

	return r
}
