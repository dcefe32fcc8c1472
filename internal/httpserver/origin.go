package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/ayame-signaling/internal/origin"
)

// originMiddleware enforces the origin policy on plain HTTP routes and adds
// CORS headers for browser callers.
func (s *Server) originMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			originHeader := strings.TrimSpace(r.Header.Get("Origin"))
			if originHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !s.origins.Allows(originHeader, r.Host) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			normalizedOrigin, _, _ := origin.NormalizeHeader(originHeader)
			if normalizedOrigin == "" {
				normalizedOrigin = originHeader
			}

			w.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
				if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
				}
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
