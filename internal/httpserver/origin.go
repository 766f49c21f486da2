package httpserver

import (
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/origin"
)

func (s *Server) originMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return s.withOriginPolicy(next.ServeHTTP)
	}
}

// withOriginPolicy rejects browser requests from origins outside the allow
// list. Requests without an Origin header pass untouched.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}

		normalizedOrigin, originHost, ok := origin.NormalizeHeader(originHeader)
		if !ok || !origin.IsAllowed(normalizedOrigin, originHost, r.Host, s.cfg.AllowedOrigins) {
			s.log.Debug("origin rejected", "origin", originHeader, "path", r.URL.Path)
			WriteJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Detail: "origin not allowed"})
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", normalizedOrigin)
		h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if requestHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requestHeaders != "" {
				h.Set("Access-Control-Allow-Headers", requestHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
