package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/repository"
	"github.com/camden-git/facesentry/services"
	"go.uber.org/zap"
)

const maxUploadSize = 10 << 20

type FrameRecognizer interface {
	DetectFrame(ctx context.Context, image []byte) ([]services.FrameMatch, error)
}

type DetectionHandler struct {
	Detections repository.DetectionRepositoryInterface
	Recognizer FrameRecognizer
	Logger     *zap.Logger
}

// ListDetections returns recent detections. Filters: camera_id, person, since
// (RFC 3339 or unix seconds) and limit.
func (h *DetectionHandler) ListDetections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.DetectionFilter{
		CameraID:   queryCameraID(r),
		PersonName: strings.TrimSpace(q.Get("person")),
		Limit:      queryLimit(r),
	}
	if s := q.Get("since"); s != "" {
		since, err := parseSince(s)
		if err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		filter.Since = &since
	}
	events, err := h.Detections.List(filter)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if events == nil {
		events = []models.DetectionEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func parseSince(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q", s)
	}
	return t, nil
}

// DetectFrame runs recognition on an uploaded image, sent either as the
// "image" field of a multipart form or as the raw request body.
func (h *DetectionHandler) DetectFrame(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err = r.ParseMultipartForm(maxUploadSize); err != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid multipart form: "+err.Error())
			return
		}
		file, _, ferr := r.FormFile("image")
		if ferr != nil {
			WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Missing image file")
			return
		}
		defer file.Close()
		data, err = io.ReadAll(file)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Failed to read image: "+err.Error())
		return
	}

	matches, err := h.Recognizer.DetectFrame(r.Context(), data)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"faces": matches,
		"count": len(matches),
	})
}
