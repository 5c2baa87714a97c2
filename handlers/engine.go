package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/realtime"
	"go.uber.org/zap"
)

type EngineService interface {
	StartEngine() models.EngineHealth
	StopEngine() models.EngineHealth
	Reload(ctx context.Context) (models.EngineHealth, error)
	Health() models.EngineHealth
}

type StatisticsSource interface {
	Snapshot() realtime.Statistics
}

type EngineHandler struct {
	Engine EngineService
	Stats  StatisticsSource
	Logger *zap.Logger
}

func (h *EngineHandler) StartEngine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.StartEngine())
}

func (h *EngineHandler) StopEngine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.StopEngine())
}

// ReloadEncodings swaps in freshly loaded encodings. On failure the previous
// encodings stay active.
// ReloadEncodings rebuilds the known encodings. A client that disconnects does
// not abort the reload.
func (h *EngineHandler) ReloadEncodings(w http.ResponseWriter, r *http.Request) {
	health, err := h.Engine.Reload(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (h *EngineHandler) EngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Health())
}

func (h *EngineHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Stats.Snapshot())
}

func (h *EngineHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"time":             time.Now().UTC(),
		"detection_engine": h.Engine.Health(),
	})
}
