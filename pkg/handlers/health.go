package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/adapters/datasource"
	"github.com/stratumhq/stratum-engine/pkg/config"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthHandler handles health check, ping and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	manager *datasource.Manager
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. The manager may be nil when
// connection pooling is not wired up, in which case /status omits pool stats.
func NewHealthHandler(cfg *config.Config, manager *datasource.Manager, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, manager: manager, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
	mux.HandleFunc("/status", h.Status)
}

// Health handles GET /health requests.
// Returns a simple "ok" status for load balancer health checks.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "stratum-engine",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// StatusResponse reports pool manager stats and the registered datasource
// types with their dependency availability.
type StatusResponse struct {
	Status string                   `json:"status"`
	Pools  *datasource.ManagerStats `json:"pools,omitempty"`
	Types  []TypeStatus             `json:"types"`
}

// TypeStatus is one registered datasource type's availability.
type TypeStatus struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Available   bool   `json:"available"`
	Coordinate  string `json:"coordinate,omitempty"`
}

// Status handles GET /status requests.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{Status: "ok"}

	if h.manager != nil {
		stats := h.manager.Stats()
		response.Pools = &stats
	}

	for _, desc := range datasource.RegisteredTypes() {
		ts := TypeStatus{
			Type:        desc.Type,
			DisplayName: desc.DisplayName,
			Category:    string(desc.Category),
			Available:   desc.Available(),
		}
		if !ts.Available {
			ts.Coordinate = desc.Coordinate
		}
		response.Types = append(response.Types, ts)
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode status response", zap.Error(err))
	}
}
