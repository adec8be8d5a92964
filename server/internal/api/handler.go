package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pulsewatch/pulsewatch/pkg/types"
	"github.com/pulsewatch/pulsewatch/server/internal/monitor"
	"github.com/pulsewatch/pulsewatch/server/internal/profiler"
)

// Querier is the read side of the monitor.
type Querier interface {
	SystemHealth() monitor.Health
	MetricsSummary() map[string]types.MetricStats
	Windows(metric, granularity string) ([]types.WindowPoint, error)
	PerformanceReport(id string) (profiler.Report, bool)
	ActiveAlerts() []types.Alert
	Alert(id string) (types.Alert, bool)
	ResolveAlert(id string) bool
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	q   Querier
	mux *http.ServeMux
}

// New creates a Handler backed by q and registers all routes.
func New(q Querier) http.Handler {
	h := &Handler{q: q, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/metrics", h.metrics)
	h.mux.HandleFunc("/api/v1/metrics/", h.metricWindows) // subtree: {name}/windows
	h.mux.HandleFunc("/api/v1/executions/", h.execution)  // subtree: {id}
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/alerts/", h.alert) // subtree: {id} and {id}/resolve

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.q.SystemHealth())
}

// metrics returns GET /api/v1/metrics.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, MetricsResponse{
		Metrics:     h.q.MetricsSummary(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// metricWindows returns GET /api/v1/metrics/{name}/windows?granularity=.
func (h *Handler) metricWindows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/metrics/")
	if rest == "" {
		h.metrics(w, r)
		return
	}
	name, ok := strings.CutSuffix(rest, "/windows")
	if !ok || name == "" || strings.Contains(name, "/") {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}

	gran := r.URL.Query().Get("granularity")
	if gran == "" {
		gran = "minute"
	}
	pts, err := h.q.Windows(name, gran)
	if errors.Is(err, monitor.ErrUnknownGranularity) {
		jsonErr(w, http.StatusBadRequest, "granularity must be minute, hour or day")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, WindowsResponse{Metric: name, Granularity: gran, Points: pts})
}

// execution returns GET /api/v1/executions/{id}.
func (h *Handler) execution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/executions/")
	if id == "" {
		jsonErr(w, http.StatusNotFound, "execution not found")
		return
	}
	rep, ok := h.q.PerformanceReport(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "execution not found")
		return
	}
	jsonResp(w, http.StatusOK, rep)
}

// alerts returns GET /api/v1/alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.q.ActiveAlerts())
}

// alert serves GET /api/v1/alerts/{id} and POST /api/v1/alerts/{id}/resolve.
func (h *Handler) alert(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	if rest == "" {
		h.alerts(w, r)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/resolve"); ok {
		if r.Method != http.MethodPost {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !h.q.ResolveAlert(id) {
			jsonErr(w, http.StatusNotFound, "alert not found")
			return
		}
		jsonResp(w, http.StatusOK, ResolveResponse{ID: id, Resolved: true})
		return
	}

	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	a, ok := h.q.Alert(rest)
	if !ok {
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	jsonResp(w, http.StatusOK, a)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
