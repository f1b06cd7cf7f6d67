package hubsim

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opsboard/livehub-go/pkg/transport"
)

// Default websocket paths.
const (
	DevicePath  = "/hubs/devices"
	MachinePath = "/hubs/machines"
)

// Handler upgrades the request to a websocket and serves it until the
// client goes away.
func (h *Hub) Handler(ws transport.WebSocketConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := transport.Upgrade(w, r, ws)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		if err := h.Serve(r.Context(), conn); err != nil {
			h.logger.Debug("session ended", "conn_id", conn.ID(), "error", err)
		}
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Devices  *Hub
	Machines *Hub

	WebSocket transport.WebSocketConfig
	Logger    *slog.Logger
}

type hubStatus struct {
	Sessions      int            `json:"sessions"`
	Subscriptions map[string]int `json:"subscriptions"`
}

// NewRouter mounts the hubs on their default paths. A nil hub is not
// mounted.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if cfg.Devices != nil {
		r.Get(DevicePath, cfg.Devices.Handler(cfg.WebSocket))
	}
	if cfg.Machines != nil {
		r.Get(MachinePath, cfg.Machines.Handler(cfg.WebSocket))
	}

	r.Get("/debug/hubs", func(w http.ResponseWriter, _ *http.Request) {
		out := make(map[string]hubStatus)
		for name, h := range map[string]*Hub{"devices": cfg.Devices, "machines": cfg.Machines} {
			if h != nil {
				out[name] = hubStatus{Sessions: h.Sessions(), Subscriptions: h.Subscriptions()}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
