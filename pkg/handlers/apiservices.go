package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/middleware"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/services"
)

// APIServiceHandler exposes draft management, the publish lifecycle, test
// execution, and the audit trail for API services.
type APIServiceHandler struct {
	drafts    services.APIServiceService
	lifecycle services.LifecycleService
	exec      services.ExecutionService
	trail     services.AuditTrailService
	logger    *zap.Logger
}

// NewAPIServiceHandler creates an API service handler.
func NewAPIServiceHandler(
	drafts services.APIServiceService,
	lifecycle services.LifecycleService,
	exec services.ExecutionService,
	trail services.AuditTrailService,
	logger *zap.Logger,
) *APIServiceHandler {
	return &APIServiceHandler{
		drafts:    drafts,
		lifecycle: lifecycle,
		exec:      exec,
		trail:     trail,
		logger:    logger,
	}
}

// RegisterRoutes registers API service routes on the given mux.
func (h *APIServiceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/services", h.Create)
	mux.HandleFunc("GET /api/services", h.List)
	mux.HandleFunc("GET /api/services/{id}", h.Get)
	mux.HandleFunc("PUT /api/services/{id}", h.Update)
	mux.HandleFunc("DELETE /api/services/{id}", h.Delete)

	mux.HandleFunc("PUT /api/services/{id}/tables", h.SetTables)
	mux.HandleFunc("GET /api/services/{id}/tables", h.ListTables)
	mux.HandleFunc("GET /api/services/{id}/template", h.DeriveTemplate)

	mux.HandleFunc("POST /api/services/{id}/publish", h.Publish)
	mux.HandleFunc("POST /api/services/{id}/unpublish", h.Unpublish)
	mux.HandleFunc("POST /api/services/{id}/rollback", h.Rollback)
	mux.HandleFunc("GET /api/services/{id}/versions", h.ListVersions)
	mux.HandleFunc("GET /api/services/{id}/versions/compare", h.Compare)

	mux.HandleFunc("POST /api/services/{id}/test", h.TestDraft)
	mux.HandleFunc("POST /api/services/{id}/test-published", h.TestPublished)
	mux.HandleFunc("POST /api/services/{id}/test-batch", h.TestBatch)

	mux.HandleFunc("GET /api/services/{id}/audit", h.AuditTrail)
}

func (h *APIServiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityOnly(w, r)
	if !ok {
		return
	}
	var svc models.APIService
	if err := decodeBody(r, &svc); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	created, err := h.drafts.Create(r.Context(), ident, &svc)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, created)
}

func (h *APIServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityOnly(w, r)
	if !ok {
		return
	}
	list, err := h.drafts.List(r.Context(), ident)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, list)
}

func (h *APIServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	svc, err := h.drafts.Get(r.Context(), ident, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, svc)
}

func (h *APIServiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	var svc models.APIService
	if err := decodeBody(r, &svc); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	svc.ID = id
	if err := h.drafts.Update(r.Context(), ident, &svc); err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, &svc)
}

func (h *APIServiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	if err := h.drafts.Delete(r.Context(), ident, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIServiceHandler) SetTables(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	var selections []*models.TableSelection
	if err := decodeBody(r, &selections); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := h.drafts.SetTableSelections(r.Context(), ident, id, selections); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIServiceHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	selections, err := h.drafts.ListTableSelections(r.Context(), ident, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, selections)
}

func (h *APIServiceHandler) DeriveTemplate(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	text, err := h.drafts.DeriveTemplate(r.Context(), ident, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"query_template": text})
}

type publishRequest struct {
	Label string `json:"label"`
	Force bool   `json:"force"`
}

func (h *APIServiceHandler) Publish(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	var req publishRequest
	if err := decodeBody(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	version, err := h.lifecycle.Publish(r.Context(), ident, id, req.Label, req.Force)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, version)
}

func (h *APIServiceHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	if err := h.lifecycle.Unpublish(r.Context(), ident, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIServiceHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	var req publishRequest
	if err := decodeBody(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if err := h.lifecycle.Rollback(r.Context(), ident, id, req.Label); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIServiceHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	versions, err := h.lifecycle.ListVersions(r.Context(), ident, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, versions)
}

func (h *APIServiceHandler) Compare(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	left := r.URL.Query().Get("left")
	right := r.URL.Query().Get("right")
	if left == "" || right == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_query", "left and right labels are required")
		return
	}
	diff, err := h.lifecycle.Compare(r.Context(), ident, id, left, right)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, diff)
}

type testRequest struct {
	Label  string         `json:"label,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

func (h *APIServiceHandler) TestDraft(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	var req testRequest
	if err := decodeBody(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	result, err := h.exec.TestDraft(r.Context(), ident, id, req.Params)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}

func (h *APIServiceHandler) TestPublished(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	var req testRequest
	if err := decodeBody(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	result, err := h.exec.TestPublished(r.Context(), ident, id, req.Label, req.Params)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}

type batchTestRequest struct {
	Label     string           `json:"label,omitempty"`
	Published bool             `json:"published"`
	ParamSets []map[string]any `json:"param_sets"`
}

func (h *APIServiceHandler) TestBatch(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	var req batchTestRequest
	if err := decodeBody(r, &req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	var results []*services.ExecutionResult
	var err error
	if req.Published || req.Label != "" {
		results, err = h.exec.BatchTestPublished(r.Context(), ident, id, req.Label, req.ParamSets)
	} else {
		results, err = h.exec.BatchTestDraft(r.Context(), ident, id, req.ParamSets)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, results)
}

func (h *APIServiceHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_query", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	records, err := h.trail.ListByService(r.Context(), ident, id, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, records)
}

// identityOnly pulls the caller identity, writing the error response itself
// when it is missing.
func identityOnly(w http.ResponseWriter, r *http.Request) (services.Identity, bool) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return services.Identity{}, false
	}
	return ident, true
}
