package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/repository"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AlertService interface {
	List(filter repository.AlertFilter) ([]models.Alert, error)
	Get(id string) (models.Alert, error)
	Acknowledge(ctx context.Context, id string) (models.Alert, error)
}

type AlertHandler struct {
	Alerts AlertService
	Logger *zap.Logger
}

const defaultListLimit = 100

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func queryCameraID(r *http.Request) *uint {
	id, err := strconv.ParseUint(r.URL.Query().Get("camera_id"), 10, 32)
	if err != nil {
		return nil
	}
	v := uint(id)
	return &v
}

// ListAlerts lists alerts newest first. ?acknowledged=true|false filters by state.
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := repository.AlertFilter{Limit: queryLimit(r), CameraID: queryCameraID(r)}
	if ack, err := strconv.ParseBool(r.URL.Query().Get("acknowledged")); err == nil {
		filter.Acknowledged = &ack
	}
	alerts, err := h.Alerts.List(filter)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.Alerts.Get(chi.URLParam(r, "alert_id"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// AcknowledgeAlert is idempotent.
func (h *AlertHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.Alerts.Acknowledge(r.Context(), chi.URLParam(r, "alert_id"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
