package httpapi

import (
	"net"
	"net/http"
	"strings"

	"github.com/memorypalace/core/pkg/config"
	"github.com/memorypalace/core/pkg/errs"
)

// requireAPIKey mirrors the teacher's pkg/api.ReadOnlyInterceptor shape
// (inspect the request, short-circuit with a typed error) as net/http
// middleware instead of a gRPC interceptor, since the control plane is
// JSON/HTTP (spec.md §6). Reads of the browse tree never go through this;
// only write routes are wrapped.
func requireAPIKey(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if kind, ok := authorize(cfg, r); !ok {
				writeError(w, http.StatusUnauthorized, kind, string(kind))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorize reports whether r carries a valid API key, and if not, which
// reason code explains why.
func authorize(cfg config.Config, r *http.Request) (errs.Kind, bool) {
	if cfg.MCPAPIKeyAllowInsecureLocal {
		if isLoopback(r) {
			return "", true
		}
		return errs.InsecureLocalOverride, false
	}
	if cfg.MCPAPIKey == "" {
		return errs.APIKeyNotConfigured, false
	}
	key := extractAPIKey(r)
	if key == "" || key != cfg.MCPAPIKey {
		return errs.InvalidAPIKey, false
	}
	return "", true
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-MCP-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func isLoopback(r *http.Request) bool {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
