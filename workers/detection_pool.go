package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camden-git/facesentry/cameras"
	"github.com/camden-git/facesentry/models"
	"go.uber.org/zap"
)

// Analyzer finds faces in an encoded frame and computes their encodings.
// An Analyzer is owned by a single worker.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) ([]models.Face, error)
	Close() error
}

// AnalyzerFactory creates the analyzer of one worker.
type AnalyzerFactory func(workerID int) (Analyzer, error)

// Matcher resolves an encoding to a known identity.
type Matcher interface {
	Lookup(encoding []float32) models.Match
}

// EventHandler consumes detection events in emission order.
type EventHandler interface {
	HandleDetection(ctx context.Context, event models.DetectionEvent)
}

// FrameScheduler hands out frames across cameras.
type FrameScheduler interface {
	Next() (cameras.Frame, *cameras.FrameBus, bool)
	Ready() <-chan struct{}
}

// PoolConfig sizes the pool.
type PoolConfig struct {
	NumWorkers   int
	IdleInterval time.Duration // how often idle workers re-check the buses
	AutoStart    bool          // start consuming immediately
}

// DetectionPool is a fixed set of workers draining every camera bus.
type DetectionPool struct {
	numWorkers   int
	idleInterval time.Duration
	sched        FrameScheduler
	newAnalyzer  AnalyzerFactory
	matcher      Matcher
	handler      EventHandler
	logger       *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	gateMu sync.Mutex
	gate   chan struct{} // closed while running
	paused bool

	activeWorkers   atomic.Int32
	framesProcessed atomic.Uint64
	facesDetected   atomic.Uint64
	frameErrors     atomic.Uint64
}

// NewDetectionPool validates the configuration and starts the workers.
// A non-positive worker count is a fatal configuration error.
func NewDetectionPool(cfg PoolConfig, sched FrameScheduler, newAnalyzer AnalyzerFactory, matcher Matcher, handler EventHandler, logger *zap.Logger) (*DetectionPool, error) {
	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("%w: detection pool needs at least one worker, got %d", models.ErrInvalidConfig, cfg.NumWorkers)
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = 50 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &DetectionPool{
		numWorkers:   cfg.NumWorkers,
		idleInterval: cfg.IdleInterval,
		sched:        sched,
		newAnalyzer:  newAnalyzer,
		matcher:      matcher,
		handler:      handler,
		logger:       logger.Named("workers"),
		ctx:          ctx,
		cancel:       cancel,
		gate:         make(chan struct{}),
		paused:       true,
	}
	if cfg.AutoStart {
		p.Resume()
	}

	p.wg.Add(cfg.NumWorkers)
	for i := 0; i < cfg.NumWorkers; i++ {
		go p.worker(i)
	}
	p.logger.Info("detection workers started", zap.Int("workers", cfg.NumWorkers), zap.Bool("running", cfg.AutoStart))
	return p, nil
}

// Resume lets workers consume frames again.
func (p *DetectionPool) Resume() {
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	if p.paused {
		close(p.gate)
		p.paused = false
		p.logger.Info("detection engine started")
	}
}

// Pause suspends consumption. Frames already being analyzed finish normally;
// new frames stay in their buses and age out.
func (p *DetectionPool) Pause() {
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	if !p.paused {
		p.gate = make(chan struct{})
		p.paused = true
		p.logger.Info("detection engine stopped")
	}
}

// Running reports whether the pool is consuming frames.
func (p *DetectionPool) Running() bool {
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	return !p.paused
}

// Stop terminates every worker and waits for them to exit.
func (p *DetectionPool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping detection workers")
		p.cancel()
		p.wg.Wait()
		p.logger.Info("all detection workers stopped")
	})
}

// Health reports the pool part of the engine status.
func (p *DetectionPool) Health() models.EngineHealth {
	return models.EngineHealth{
		Running:         p.Running(),
		Workers:         p.numWorkers,
		ActiveWorkers:   int(p.activeWorkers.Load()),
		FramesProcessed: p.framesProcessed.Load(),
		FacesDetected:   p.facesDetected.Load(),
		FrameErrors:     p.frameErrors.Load(),
	}
}

func (p *DetectionPool) waitRunning() bool {
	for {
		p.gateMu.Lock()
		gate := p.gate
		p.gateMu.Unlock()
		select {
		case <-gate:
			return true
		case <-p.ctx.Done():
			return false
		}
	}
}

// worker loads its own analyzer and processes frames until the pool stops
func (p *DetectionPool) worker(id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))

	analyzer, err := p.newAnalyzer(id)
	if err != nil {
		log.Error("failed to load face analyzer, worker exiting", zap.Error(err))
		return
	}
	defer func() {
		if err := analyzer.Close(); err != nil {
			log.Warn("failed to close face analyzer", zap.Error(err))
		}
	}()

	p.activeWorkers.Add(1)
	defer p.activeWorkers.Add(-1)

	idle := time.NewTicker(p.idleInterval)
	defer idle.Stop()

	log.Debug("detection worker started")
	for {
		if !p.waitRunning() {
			return
		}
		frame, bus, ok := p.sched.Next()
		if !ok {
			select {
			case <-p.sched.Ready():
			case <-idle.C:
			case <-p.ctx.Done():
				return
			}
			continue
		}
		p.process(log, analyzer, frame)
		bus.Done()
	}
}

// process runs detection and matching on one frame and emits one event per face
func (p *DetectionPool) process(log *zap.Logger, analyzer Analyzer, frame cameras.Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.frameErrors.Add(1)
			log.Error("recovered from panic while processing frame", zap.Uint("camera_id", frame.CameraID), zap.Any("panic", r))
		}
	}()

	faces, err := analyzer.Analyze(p.ctx, frame.Data)
	if err != nil {
		p.frameErrors.Add(1)
		log.Debug("frame analysis failed", zap.Uint("camera_id", frame.CameraID), zap.Uint64("seq", frame.Seq), zap.Error(err))
		return
	}
	p.framesProcessed.Add(1)

	for _, face := range faces {
		match := p.matcher.Lookup(face.Encoding)
		name := match.PersonName
		if !match.Known || name == "" {
			name = models.UnknownPerson
		}
		p.facesDetected.Add(1)
		p.handler.HandleDetection(p.ctx, models.DetectionEvent{
			CameraID:   frame.CameraID,
			PersonName: name,
			Confidence: match.Confidence,
			Timestamp:  frame.CapturedAt,
			Box:        face.Box,
			Frame:      frame.Data,
		})
	}
}
