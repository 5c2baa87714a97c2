package services

import (
	"net/http"
	"sync"

	"github.com/camden-git/facesentry/cameras"
	"github.com/hybridgroup/mjpeg"
)

// LiveView serves the latest frames of every camera as MJPEG streams.
type LiveView struct {
	mu      sync.RWMutex
	streams map[uint]*mjpeg.Stream
}

func NewLiveView() *LiveView {
	return &LiveView{streams: make(map[uint]*mjpeg.Stream)}
}

// Publish forwards a decoded frame to the viewers of its camera.
func (l *LiveView) Publish(frame cameras.Frame) {
	if len(frame.Data) == 0 {
		return
	}
	l.stream(frame.CameraID).UpdateJPEG(frame.Data)
}

// Handler returns the MJPEG handler of one camera.
func (l *LiveView) Handler(cameraID uint) http.Handler {
	return l.stream(cameraID)
}

// Forget drops the stream of a removed camera.
func (l *LiveView) Forget(cameraID uint) {
	l.mu.Lock()
	delete(l.streams, cameraID)
	l.mu.Unlock()
}

func (l *LiveView) stream(cameraID uint) *mjpeg.Stream {
	l.mu.RLock()
	s, ok := l.streams[cameraID]
	l.mu.RUnlock()
	if ok {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok = l.streams[cameraID]; !ok {
		s = mjpeg.NewStream()
		l.streams[cameraID] = s
	}
	return s
}
