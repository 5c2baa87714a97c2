package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camden-git/facesentry/database"
	"github.com/camden-git/facesentry/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types pushed to subscribers.
const (
	TypeStatistics = "statistics"
	TypeAlerts     = "alerts"
)

// Envelope is the wire shape of every pushed message.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// CameraSource lists cameras with their runtime status.
type CameraSource interface {
	List() []models.CameraView
}

// EngineSource reports detection engine health.
type EngineSource interface {
	Health() models.EngineHealth
}

// HubConfig configures broadcasting.
type HubConfig struct {
	Interval  time.Duration // statistics period
	QueueSize int           // per-subscriber queue bound
}

// Hub aggregates counters and broadcasts statistics and alerts to subscribers.
type Hub struct {
	cfg     HubConfig
	logger  *zap.Logger
	sampler *processSampler
	now     func() time.Time

	cameras CameraSource
	engine  EngineSource

	totalDetections atomic.Int64
	detectionsToday atomic.Int64
	totalAlerts     atomic.Int64
	unacknowledged  atomic.Int64

	dayMu sync.Mutex
	day   string

	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewHub creates a hub. Bind its sources before calling Run.
func NewHub(cfg HubConfig, logger *zap.Logger) *Hub {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	h := &Hub{
		cfg:         cfg,
		logger:      logger.Named("realtime"),
		sampler:     newProcessSampler(),
		now:         time.Now,
		subscribers: make(map[*Subscriber]struct{}),
	}
	h.day = dayKey(h.now())
	return h
}

// Bind sets where camera and engine status are read from.
func (h *Hub) Bind(cameras CameraSource, engine EngineSource) {
	h.cameras = cameras
	h.engine = engine
}

// Seed initializes the counters from persisted totals.
func (h *Hub) Seed(c database.Counts) {
	h.totalDetections.Store(c.TotalDetections)
	h.detectionsToday.Store(c.DetectionsToday)
	h.totalAlerts.Store(c.TotalAlerts)
	h.unacknowledged.Store(c.UnacknowledgedAlerts)
	h.logger.Info("statistics seeded",
		zap.Int64("detections", c.TotalDetections),
		zap.Int64("alerts", c.TotalAlerts),
		zap.Int64("unacknowledged", c.UnacknowledgedAlerts))
}

// RecordDetection counts one detection event.
func (h *Hub) RecordDetection(models.DetectionEvent) {
	h.rollDay()
	h.totalDetections.Add(1)
	h.detectionsToday.Add(1)
}

// PublishAlert counts a new alert and pushes it to every subscriber immediately.
func (h *Hub) PublishAlert(alert models.Alert) {
	h.totalAlerts.Add(1)
	h.unacknowledged.Add(1)
	h.broadcast(TypeAlerts, alert)
}

// RecordAcknowledgement counts the first acknowledgement of an alert.
func (h *Hub) RecordAcknowledgement() {
	if h.unacknowledged.Add(-1) < 0 {
		h.unacknowledged.Store(0)
	}
}

// Run broadcasts statistics every interval until ctx is done, then drops all subscribers.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	h.logger.Info("statistics broadcaster started", zap.Duration("interval", h.cfg.Interval))
	for {
		select {
		case <-ticker.C:
			h.broadcast(TypeStatistics, h.Snapshot())
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("statistics broadcaster stopped")
			return
		}
	}
}

// Snapshot returns the current statistics.
func (h *Hub) Snapshot() Statistics {
	h.rollDay()
	st := Statistics{
		TotalDetections:      h.totalDetections.Load(),
		DetectionsToday:      h.detectionsToday.Load(),
		TotalAlerts:          h.totalAlerts.Load(),
		UnacknowledgedAlerts: h.unacknowledged.Load(),
		Cameras:              []models.RuntimeStatus{},
		System:               h.sampler.sample(),
		GeneratedAt:          h.now(),
	}
	st.System.Goroutines = runtime.NumGoroutine()
	if h.cameras != nil {
		for _, v := range h.cameras.List() {
			st.TotalCameras++
			if v.Status == nil {
				continue
			}
			if v.Status.IsRunning {
				st.ActiveCameras++
			}
			st.Cameras = append(st.Cameras, *v.Status)
		}
	}
	if h.engine != nil {
		st.DetectionEngine = h.engine.Health()
		st.WatchlistCount = st.DetectionEngine.WatchlistCount
	}
	h.mu.RLock()
	st.Subscribers = len(h.subscribers)
	h.mu.RUnlock()
	return st
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	s := newSubscriber(h.cfg.QueueSize)
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe drops a subscriber and wakes its reader.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	h.mu.Unlock()
	s.close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[*Subscriber]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.close()
	}
}

func (h *Hub) broadcast(kind string, data any) {
	msg, err := h.encode(kind, data)
	if err != nil {
		h.logger.Error("failed to marshal message", zap.String("type", kind), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subscribers {
		s.enqueue(msg)
	}
}

func (h *Hub) encode(kind string, data any) (Message, error) {
	payload, err := json.Marshal(Envelope{Type: kind, Data: data, Timestamp: h.now().Unix()})
	if err != nil {
		return Message{}, err
	}
	return Message{Type: kind, Payload: payload}, nil
}

func (h *Hub) rollDay() {
	today := dayKey(h.now())
	h.dayMu.Lock()
	defer h.dayMu.Unlock()
	if today != h.day {
		h.day = today
		h.detectionsToday.Store(0)
	}
}

func dayKey(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// ServeWS upgrades the connection and relays hub messages until the client goes away.
// The client receives a statistics snapshot right after connecting.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := h.Subscribe()
	if msg, err := h.encode(TypeStatistics, h.Snapshot()); err == nil {
		sub.enqueue(msg)
	}
	h.logger.Debug("websocket client connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// writer
	go func() {
		defer conn.Close()
		for {
			msg, ok := sub.Next(ctx)
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
				cancel()
				return
			}
		}
	}()

	// reader: only consumes control frames and detects close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.Unsubscribe(sub)
	h.logger.Debug("websocket client disconnected", zap.String("remote", r.RemoteAddr), zap.Uint64("dropped", sub.Dropped()))
}
