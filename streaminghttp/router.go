package streaminghttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultEndpoint is the path the MCP handler is mounted on.
const DefaultEndpoint = "/mcp"

var (
	corsAllowMethods  = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsAllowHeaders  = []string{"Content-Type", mcpSessionIDHeader, mcpProtocolVersionHeader, lastEventIDHeader, "Origin", "Accept", "Authorization"}
	corsExposeHeaders = []string{mcpSessionIDHeader, mcpProtocolVersionHeader}
)

// Status is the body served on GET /.
type Status struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Endpoint string `json:"endpoint"`
}

// CORS allows any origin to reach the wrapped handler and answers preflight
// requests with 204.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Methods", strings.Join(corsAllowMethods, ", "))
		hdr.Set("Access-Control-Allow-Headers", strings.Join(corsAllowHeaders, ", "))
		hdr.Set("Access-Control-Expose-Headers", strings.Join(corsExposeHeaders, ", "))
		hdr.Set("Access-Control-Max-Age", "600")
		hdr.Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter mounts h at DefaultEndpoint behind request-id, real-ip, panic
// recovery and CORS middleware, and serves a status document on GET /.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", jsonMediaType.String())
		if err := json.NewEncoder(w).Encode(Status{
			Status:   "ok",
			Message:  "MCP Server running",
			Endpoint: DefaultEndpoint,
		}); err != nil {
			h.log.ErrorContext(r.Context(), "http.status.write.fail", slog.String("err", err.Error()))
		}
	})
	r.Handle(DefaultEndpoint, h)

	return r
}
