package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"assetd/internal/recovery"
	"assetd/pkg/types"
)

// surface resolves {sid} or writes 404.
func (h *handlers) surface(w http.ResponseWriter, r *http.Request) (*recovery.Controller, bool) {
	sid := chi.URLParam(r, "sid")
	c, ok := h.svc.Surface(sid)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown surface: "+sid, "")
	}
	return c, ok
}

func (h *handlers) surfaceList(w http.ResponseWriter, r *http.Request) {
	ids := h.svc.SurfaceIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, types.SurfacesResponse{Surfaces: ids})
}

// surfaceInit godoc
// @Summary Initialize diagnostics for a rendering surface
// @Param sid path string true "surface id"
// @Success 201 {object} types.RecoveryStatus
// @Success 200 {object} types.RecoveryStatus
// @Router /surfaces/{sid} [post]
func (h *handlers) surfaceInit(w http.ResponseWriter, r *http.Request) {
	sid := strings.TrimSpace(chi.URLParam(r, "sid"))
	if sid == "" {
		writeJSONError(w, http.StatusBadRequest, "surface id is required", "")
		return
	}
	c, created := h.svc.InitSurface(sid)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c.Status())
}

func (h *handlers) surfaceStatus(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.surface(w, r); ok {
		writeJSON(w, http.StatusOK, c.Status())
	}
}

func (h *handlers) surfaceRemove(w http.ResponseWriter, r *http.Request) {
	if !h.svc.RemoveSurface(chi.URLParam(r, "sid")) {
		writeJSONError(w, http.StatusNotFound, "unknown surface: "+chi.URLParam(r, "sid"), "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// surfaceLost godoc
// @Summary Report a rendering context loss
// @Param sid path string true "surface id"
// @Success 202 {object} types.RecoveryStatus
// @Router /surfaces/{sid}/lost [post]
func (h *handlers) surfaceLost(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.surface(w, r); ok {
		c.ContextLost()
		writeJSON(w, http.StatusAccepted, c.Status())
	}
}

// surfaceRestored godoc
// @Summary Report that the rendering context came back
// @Param sid path string true "surface id"
// @Success 202 {object} types.RecoveryStatus
// @Router /surfaces/{sid}/restored [post]
func (h *handlers) surfaceRestored(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.surface(w, r); ok {
		c.ContextRestored()
		writeJSON(w, http.StatusAccepted, c.Status())
	}
}

// surfaceReset godoc
// @Summary Full reset, the only way out of the degraded state
// @Param sid path string true "surface id"
// @Success 200 {object} types.RecoveryStatus
// @Router /surfaces/{sid}/reset [post]
func (h *handlers) surfaceReset(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.surface(w, r); ok {
		c.Reset()
		writeJSON(w, http.StatusOK, c.Status())
	}
}

func (h *handlers) surfaceResetDiagnostics(w http.ResponseWriter, r *http.Request) {
	if c, ok := h.surface(w, r); ok {
		c.ResetDiagnostics()
		writeJSON(w, http.StatusOK, c.Status())
	}
}

// surfaceQuality godoc
// @Summary Renderer settings for the surface's current level
// @Param sid path string true "surface id"
// @Success 200 {object} types.QualitySettings
// @Failure 503 {object} types.ErrorResponse "surface degraded"
// @Router /surfaces/{sid}/quality [get]
func (h *handlers) surfaceQuality(w http.ResponseWriter, r *http.Request) {
	c, ok := h.surface(w, r)
	if !ok {
		return
	}
	if err := c.Err(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.QualitySettings())
}

// surfaceSetQuality godoc
// @Summary Override the surface quality level
// @Accept json
// @Param sid path string true "surface id"
// @Param body body types.QualityRequest true "level"
// @Success 200 {object} types.QualitySettings
// @Router /surfaces/{sid}/quality [put]
func (h *handlers) surfaceSetQuality(w http.ResponseWriter, r *http.Request) {
	c, ok := h.surface(w, r)
	if !ok {
		return
	}
	var req types.QualityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	level, err := types.ParseQuality(req.Level)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, recovery.QualitySettings(c.SetQualityLevel(level)))
}

// qualityTable godoc
// @Summary Renderer settings for a quality level
// @Param level path string true "low, medium, high or ultra"
// @Success 200 {object} types.QualitySettings
// @Router /quality/{level} [get]
func (h *handlers) qualityTable(w http.ResponseWriter, r *http.Request) {
	level, err := types.ParseQuality(chi.URLParam(r, "level"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, recovery.QualitySettings(level))
}
