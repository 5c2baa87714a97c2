package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/camden-git/facesentry/models"
	"github.com/go-chi/chi/v5"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

// CameraService is the camera lifecycle the handlers drive.
type CameraService interface {
	List() []models.CameraView
	Get(id uint) (models.Camera, error)
	Status(id uint) (models.RuntimeStatus, bool)
	Add(camera models.Camera) (uint, error)
	Update(id uint, name, streamURL string, location *string) (models.Camera, error)
	Remove(id uint) error
	Start(id uint) error
	Stop(id uint) error
	StartAll() error
	StopAll() error
}

// LiveStreams serves the MJPEG view of a camera.
type LiveStreams interface {
	Handler(cameraID uint) http.Handler
}

type CameraHandler struct {
	Cameras CameraService
	Live    LiveStreams
	Logger  *zap.Logger
}

type cameraRequest struct {
	Name      string  `json:"name"`
	StreamURL string  `json:"stream_url"`
	Location  *string `json:"location"`
}

func cameraID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "camera_id"), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid camera id", models.ErrInvalidConfig)
	}
	return uint(id), nil
}

func (h *CameraHandler) view(id uint) (models.CameraView, error) {
	camera, err := h.Cameras.Get(id)
	if err != nil {
		return models.CameraView{}, err
	}
	v := models.CameraView{Camera: camera}
	if st, ok := h.Cameras.Status(id); ok {
		v.Status = &st
	}
	return v, nil
}

func (h *CameraHandler) ListCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cameras.List())
}

func (h *CameraHandler) CreateCamera(w http.ResponseWriter, r *http.Request) {
	var req cameraRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var camera models.Camera
	if err := copier.Copy(&camera, &req); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	id, err := h.Cameras.Add(camera)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	v, err := h.view(id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *CameraHandler) GetCamera(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	v, err := h.view(id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CameraHandler) UpdateCamera(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	var req cameraRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	camera, err := h.Cameras.Update(id, req.Name, req.StreamURL, req.Location)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, camera)
}

func (h *CameraHandler) DeleteCamera(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if err := h.Cameras.Remove(id); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartCamera starts the camera. A failed first connection is reported as 502
// while the camera keeps retrying.
func (h *CameraHandler) StartCamera(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if err := h.Cameras.Start(id); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	v, err := h.view(id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CameraHandler) StopCamera(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if err := h.Cameras.Stop(id); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	v, err := h.view(id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CameraHandler) CameraStatus(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if _, err := h.Cameras.Get(id); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	st, ok := h.Cameras.Status(id)
	if !ok {
		st = models.RuntimeStatus{CameraID: id, State: models.SourceStopped}
	}
	writeJSON(w, http.StatusOK, st)
}

// StartAll starts every camera and reports the resulting views. Cameras that
// failed to connect are listed in errors.
func (h *CameraHandler) StartAll(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, h.Cameras.StartAll())
}

func (h *CameraHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, h.Cameras.StopAll())
}

func (h *CameraHandler) bulk(w http.ResponseWriter, err error) {
	resp := map[string]interface{}{"cameras": h.Cameras.List()}
	if err != nil {
		h.Logger.Warn("bulk camera operation had failures", zap.Error(err))
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CameraHandler) StreamCamera(w http.ResponseWriter, r *http.Request) {
	id, err := cameraID(r)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if _, err := h.Cameras.Get(id); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if _, running := h.Cameras.Status(id); !running {
		writeError(w, h.Logger, fmt.Errorf("%w: camera %d is not running", models.ErrConflict, id))
		return
	}
	h.Live.Handler(id).ServeHTTP(w, r)
}
