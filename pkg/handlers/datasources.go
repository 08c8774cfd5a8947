package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stratumhq/stratum-engine/pkg/middleware"
	"github.com/stratumhq/stratum-engine/pkg/models"
	"github.com/stratumhq/stratum-engine/pkg/services"
)

// DatasourceHandler exposes datasource management over HTTP. Identity comes
// from the tenant middleware; the handler is a thin mapping onto the service.
type DatasourceHandler struct {
	svc    services.DatasourceService
	logger *zap.Logger
}

// NewDatasourceHandler creates a datasource handler.
func NewDatasourceHandler(svc services.DatasourceService, logger *zap.Logger) *DatasourceHandler {
	return &DatasourceHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers datasource routes on the given mux.
func (h *DatasourceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/datasources", h.Create)
	mux.HandleFunc("GET /api/datasources", h.List)
	mux.HandleFunc("GET /api/datasources/{id}", h.Get)
	mux.HandleFunc("PUT /api/datasources/{id}", h.Update)
	mux.HandleFunc("DELETE /api/datasources/{id}", h.Disable)
	mux.HandleFunc("POST /api/datasources/{id}/test", h.Test)
	mux.HandleFunc("POST /api/datasources/test", h.TestConfig)
	mux.HandleFunc("POST /api/datasources/test-all", h.TestAll)
}

func (h *DatasourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var ds models.Datasource
	if err := decodeBody(r, &ds); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	created, err := h.svc.Create(r.Context(), ident, &ds)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, created)
}

func (h *DatasourceHandler) List(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	list, err := h.svc.List(r.Context(), ident)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, list)
}

func (h *DatasourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}

	ds, err := h.svc.Get(r.Context(), ident, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, ds)
}

func (h *DatasourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}

	var ds models.Datasource
	if err := decodeBody(r, &ds); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	ds.ID = id

	if err := h.svc.Update(r.Context(), ident, &ds); err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, &ds)
}

func (h *DatasourceHandler) Disable(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Disable(r.Context(), ident, id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DatasourceHandler) Test(w http.ResponseWriter, r *http.Request) {
	ident, id, ok := identityAndID(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Test(r.Context(), ident, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}

func (h *DatasourceHandler) TestConfig(w http.ResponseWriter, r *http.Request) {
	var ds models.Datasource
	if err := decodeBody(r, &ds); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	_ = WriteJSON(w, http.StatusOK, h.svc.TestConfig(r.Context(), &ds))
}

func (h *DatasourceHandler) TestAll(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	statuses, err := h.svc.TestAll(r.Context(), ident)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, statuses)
}

// identityAndID pulls the caller identity and the {id} path value; it writes
// the error response itself when either is missing.
func identityAndID(w http.ResponseWriter, r *http.Request) (services.Identity, uuid.UUID, bool) {
	ident, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		_ = ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return services.Identity{}, uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_id", "id must be a UUID")
		return services.Identity{}, uuid.Nil, false
	}
	return ident, id, true
}
