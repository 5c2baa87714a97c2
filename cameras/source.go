package cameras

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/camden-git/facesentry/models"
	"go.uber.org/zap"
)

// Stream is an open connection to one camera.
type Stream interface {
	// Read blocks for the next frame. Errors wrapping models.ErrDecode mark a
	// corrupt frame; any other error means the connection is lost.
	Read() (Frame, error)
	Close() error
}

// Opener connects to a stream locator.
type Opener func(ctx context.Context, locator string) (Stream, error)

// SourceConfig tunes reconnects, health reporting and frame sampling.
type SourceConfig struct {
	Backoff           BackoffPolicy
	FailureThreshold  int           // consecutive failures before the camera reports not running
	MaxDecodeFailures int           // consecutive corrupt frames before reconnecting
	FPSWindow         time.Duration // trailing window for the smoothed frame rate
	ProcessEveryN     int           // push every Nth decoded frame to the bus
}

func (c SourceConfig) withDefaults() SourceConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.MaxDecodeFailures <= 0 {
		c.MaxDecodeFailures = 10
	}
	if c.ProcessEveryN <= 0 {
		c.ProcessEveryN = 1
	}
	return c
}

// FrameSource keeps one camera connected and feeds its frames into a FrameBus.
type FrameSource struct {
	cameraID uint
	locator  string
	open     Opener
	bus      *FrameBus
	cfg      SourceConfig
	observe  func(Frame)
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.RWMutex
	state       models.SourceState
	failures    int
	decodeFails int
	lastFrameAt time.Time
	lastErr     error
	captured    uint64
	fps         *fpsMeter

	ready     chan error
	readyOnce sync.Once
	done      chan struct{}
}

// NewFrameSource creates a source for one camera. observe, if non-nil, sees every decoded frame.
func NewFrameSource(camera models.Camera, open Opener, bus *FrameBus, cfg SourceConfig, observe func(Frame), logger *zap.Logger) *FrameSource {
	cfg = cfg.withDefaults()
	return &FrameSource{
		cameraID: camera.ID,
		locator:  camera.StreamURL,
		open:     open,
		bus:      bus,
		cfg:      cfg,
		observe:  observe,
		logger:   logger.With(zap.Uint("camera_id", camera.ID)),
		now:      time.Now,
		state:    models.SourceConnecting,
		fps:      newFPSMeter(cfg.FPSWindow),
		ready:    make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Ready yields the result of the first connection attempt.
func (s *FrameSource) Ready() <-chan error { return s.ready }

// Done is closed once Run has returned.
func (s *FrameSource) Done() <-chan struct{} { return s.done }

// Run connects, streams and reconnects until ctx is cancelled.
func (s *FrameSource) Run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(models.SourceStopped)

	for ctx.Err() == nil {
		stream, err := s.open(ctx, s.locator)
		if err != nil {
			err = fmt.Errorf("%w: open %s: %w", models.ErrConnection, s.locator, err)
			s.signalReady(err)
			s.recordFailure(err)
			s.logger.Warn("camera connect failed", zap.Int("failures", s.Failures()), zap.Error(err))
			if !s.wait(ctx) {
				return
			}
			continue
		}
		s.signalReady(nil)
		s.setState(models.SourceStreaming)
		s.logger.Info("camera streaming", zap.String("locator", s.locator))

		err = s.stream(ctx, stream)
		if cerr := stream.Close(); cerr != nil {
			s.logger.Debug("camera stream close failed", zap.Error(cerr))
		}
		if ctx.Err() != nil {
			return
		}
		s.recordFailure(err)
		s.setState(models.SourceReconnecting)
		s.logger.Warn("camera stream lost, reconnecting", zap.Int("failures", s.Failures()), zap.Error(err))
		if !s.wait(ctx) {
			return
		}
	}
}

func (s *FrameSource) stream(ctx context.Context, stream Stream) error {
	var seq uint64
	for ctx.Err() == nil {
		frame, err := stream.Read()
		if err != nil {
			if !errors.Is(err, models.ErrDecode) {
				if !errors.Is(err, models.ErrConnection) {
					err = fmt.Errorf("%w: %w", models.ErrConnection, err)
				}
				return err
			}
			if s.recordDecodeFailure(err) >= s.cfg.MaxDecodeFailures {
				return fmt.Errorf("%w: %d consecutive corrupt frames", models.ErrConnection, s.cfg.MaxDecodeFailures)
			}
			continue
		}

		seq++
		now := s.now()
		frame.CameraID = s.cameraID
		frame.Seq = seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = now
		}
		s.recordFrame(now)

		if s.observe != nil {
			s.observe(frame)
		}
		if seq%uint64(s.cfg.ProcessEveryN) == 0 {
			s.bus.Push(frame)
		}
	}
	return ctx.Err()
}

func (s *FrameSource) wait(ctx context.Context) bool {
	delay := s.cfg.Backoff.Delay(s.Failures())
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		s.setState(models.SourceConnecting)
		return true
	}
}

func (s *FrameSource) signalReady(err error) {
	s.readyOnce.Do(func() { s.ready <- err })
}

func (s *FrameSource) setState(state models.SourceState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *FrameSource) recordFailure(err error) {
	s.mu.Lock()
	s.failures++
	s.decodeFails = 0
	s.lastErr = err
	s.fps.reset()
	s.mu.Unlock()
}

func (s *FrameSource) recordDecodeFailure(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.decodeFails++
	s.lastErr = err
	return s.decodeFails
}

func (s *FrameSource) recordFrame(at time.Time) {
	s.mu.Lock()
	s.failures = 0
	s.decodeFails = 0
	s.captured++
	s.lastFrameAt = at
	s.fps.observe(at)
	s.mu.Unlock()
}

// Failures returns the consecutive failure count.
func (s *FrameSource) Failures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures
}

// Status derives the runtime status of the camera.
func (s *FrameSource) Status() models.RuntimeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := models.RuntimeStatus{
		CameraID:            s.cameraID,
		State:               s.state,
		IsRunning:           s.state != models.SourceStopped && s.failures < s.cfg.FailureThreshold,
		FPS:                 s.fps.rate(s.now()),
		ConsecutiveFailures: s.failures,
		FramesCaptured:      s.captured,
	}
	if !s.lastFrameAt.IsZero() {
		t := s.lastFrameAt
		st.LastFrameAt = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.bus != nil {
		bs := s.bus.Stats()
		st.QueueSize = bs.Queued
		st.FramesEvicted = bs.Evicted
	}
	return st
}
