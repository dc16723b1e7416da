package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/hardware-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// Middleware rejects requests without a valid bearer token and attaches the
// principal to the request context.
func Middleware(svc *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}
			principal, err := svc.Verify(raw)
			if err != nil {
				if logger != nil {
					logger.DebugContext(r.Context(), "reject token", slog.Any("error", err))
				}
				unauthorized(w, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	httpx.JSON(w, http.StatusUnauthorized, httpx.ErrorBody{ErrorKind: "unauthorized", Message: message})
}
