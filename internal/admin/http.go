package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dalbodeule/weaprous-gate/internal/logging"
	"github.com/dalbodeule/weaprous-gate/internal/proxy"
)

// Handler 는 /api/v1/admin 관리 plane HTTP 엔드포인트를 제공합니다.
// 코어 엔진과는 별도의 listener 에서 동작합니다.
type Handler struct {
	Logger      logging.Logger
	AdminAPIKey string
	Routes      RouteService // nil 이면 라우트 API 를 등록하지 않습니다. (서버 모드)
}

// NewHandler 는 새로운 Handler 를 생성합니다.
func NewHandler(logger logging.Logger, adminAPIKey string, routes RouteService) *Handler {
	if logger == nil {
		logger = logging.NewStdJSONLogger("admin_api")
	}
	return &Handler{
		Logger:      logger.With(logging.Fields{"component": "admin_api"}),
		AdminAPIKey: strings.TrimSpace(adminAPIKey),
		Routes:      routes,
	}
}

// RegisterRoutes 는 전달받은 mux 에 관리 API 라우트를 등록합니다.
//   - GET  /healthz
//   - GET  /metrics
//   - GET  /api/v1/admin/routes
//   - GET  /api/v1/admin/routes/status?hostname=...
//   - POST /api/v1/admin/routes/save
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	if h.Routes == nil {
		return
	}
	mux.Handle("/api/v1/admin/routes", h.authMiddleware(http.HandlerFunc(h.handleRouteList)))
	mux.Handle("/api/v1/admin/routes/status", h.authMiddleware(http.HandlerFunc(h.handleRouteStatus)))
	mux.Handle("/api/v1/admin/routes/save", h.authMiddleware(http.HandlerFunc(h.handleRouteSave)))
}

// authMiddleware 는 Authorization: Bearer {ADMIN_API_KEY} 헤더를 검증합니다.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authenticate(r) {
			h.writeJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"error":   "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) authenticate(r *http.Request) bool {
	if h.AdminAPIKey == "" {
		// Admin API 키가 설정되지 않았다면 모든 요청을 거부
		return false
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	return token == h.AdminAPIKey
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type routeView struct {
	Hostname string   `json:"hostname"`
	Backends []string `json:"backends"`
	Policy   string   `json:"policy,omitempty"`
}

type routeListResponse struct {
	Success        bool        `json:"success"`
	DefaultBackend string      `json:"default_backend,omitempty"`
	Routes         []routeView `json:"routes,omitempty"`
	Error          string      `json:"error,omitempty"`
}

type routeStatusResponse struct {
	Success bool       `json:"success"`
	Exists  bool       `json:"exists"`
	Route   *routeView `json:"route,omitempty"`
	Error   string     `json:"error,omitempty"`
}

type routeSaveRequest struct {
	Hostname string   `json:"hostname"`
	Backends []string `json:"backends"`
	Policy   string   `json:"policy"`
}

type routeSaveResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) handleRouteList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeMethodNotAllowed(w, r)
		return
	}

	routes, def, err := h.Routes.ListRoutes(r.Context())
	if err != nil {
		h.Logger.Error("failed to list routes", logging.Fields{"error": err.Error()})
		h.writeJSON(w, http.StatusInternalServerError, routeListResponse{
			Success: false,
			Error:   "internal error",
		})
		return
	}

	table := proxy.NewTable(routes, def)
	views := make([]routeView, 0, table.Len())
	for _, host := range table.Hosts() {
		rt, _ := table.Lookup(host)
		views = append(views, routeView{Hostname: host, Backends: rt.Backends, Policy: string(rt.Policy)})
	}
	h.writeJSON(w, http.StatusOK, routeListResponse{
		Success:        true,
		DefaultBackend: def,
		Routes:         views,
	})
}

func (h *Handler) handleRouteStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeMethodNotAllowed(w, r)
		return
	}

	hostname := strings.TrimSpace(r.URL.Query().Get("hostname"))
	if hostname == "" {
		h.writeJSON(w, http.StatusBadRequest, routeStatusResponse{
			Success: false,
			Error:   "hostname is required",
		})
		return
	}

	rt, err := h.Routes.GetRoute(r.Context(), hostname)
	if err != nil {
		if errors.Is(err, ErrRouteNotFound) {
			h.writeJSON(w, http.StatusOK, routeStatusResponse{
				Success: true,
				Exists:  false,
			})
			return
		}

		h.Logger.Error("failed to get route status", logging.Fields{
			"hostname": hostname,
			"error":    err.Error(),
		})
		h.writeJSON(w, http.StatusInternalServerError, routeStatusResponse{
			Success: false,
			Error:   "internal error",
		})
		return
	}

	h.writeJSON(w, http.StatusOK, routeStatusResponse{
		Success: true,
		Exists:  true,
		Route: &routeView{
			Hostname: normalizeHostname(hostname),
			Backends: rt.Backends,
			Policy:   string(rt.Policy),
		},
	})
}

func (h *Handler) handleRouteSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeMethodNotAllowed(w, r)
		return
	}

	var req routeSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn("invalid route save request body", logging.Fields{"error": err.Error()})
		h.writeJSON(w, http.StatusBadRequest, routeSaveResponse{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	err := h.Routes.SaveRoute(r.Context(), req.Hostname, proxy.Route{
		Backends: req.Backends,
		Policy:   proxy.Policy(strings.TrimSpace(req.Policy)),
	})
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, routeSaveResponse{Success: true})
	case errors.Is(err, ErrInvalidRoute):
		h.writeJSON(w, http.StatusBadRequest, routeSaveResponse{
			Success: false,
			Error:   "hostname and backends are required",
		})
	case errors.Is(err, ErrReadOnly):
		h.writeJSON(w, http.StatusNotImplemented, routeSaveResponse{
			Success: false,
			Error:   "route store not configured",
		})
	default:
		h.writeJSON(w, http.StatusInternalServerError, routeSaveResponse{
			Success: false,
			Error:   "internal error",
		})
	}
}

func (h *Handler) writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
		"success": false,
		"error":   "method not allowed",
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("failed to write json response", logging.Fields{"error": err.Error()})
	}
}
