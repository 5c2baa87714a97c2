package services

import (
	"context"
	"fmt"
	"time"

	"github.com/camden-git/facesentry/alerts"
	"github.com/camden-git/facesentry/cameras"
	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/realtime"
	"github.com/camden-git/facesentry/recognition"
	"github.com/camden-git/facesentry/repository"
	"github.com/camden-git/facesentry/workers"
	"go.uber.org/zap"
)

// PipelineConfig collects the settings of every pipeline stage.
type PipelineConfig struct {
	Registry       cameras.RegistryConfig
	Pool           workers.PoolConfig
	Alerts         alerts.Config
	MatchThreshold float64
	RestoreCameras bool
}

// PipelineDeps are the collaborators the pipeline is built from.
type PipelineDeps struct {
	Cameras     repository.CameraRepositoryInterface
	Detections  repository.DetectionRepositoryInterface
	Alerts      repository.AlertRepositoryInterface
	Watchlist   repository.WatchlistRepositoryInterface
	Open        cameras.Opener
	NewAnalyzer workers.AnalyzerFactory
	Enroller    recognition.Enroller
	Cooldown    alerts.Cooldown      // nil uses an in-process cooldown
	Snapshots   alerts.SnapshotSaver // nil disables snapshots
	Hub         *realtime.Hub
	Live        *LiveView // nil disables the live view
}

// Pipeline wires cameras, detection, alerts and statistics together.
type Pipeline struct {
	Registry  *cameras.Registry
	Scheduler *cameras.Scheduler
	Encodings *recognition.EncodingStore
	Pool      *workers.DetectionPool
	Alerts    *alerts.Manager
	Hub       *realtime.Hub
	Live      *LiveView

	restore bool
	logger  *zap.Logger
}

// NewPipeline builds every stage. Configuration errors are returned before
// any goroutine is started.
func NewPipeline(cfg PipelineConfig, deps PipelineDeps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Hub == nil {
		return nil, fmt.Errorf("%w: pipeline needs a statistics hub", models.ErrInvalidConfig)
	}
	if cfg.Pool.NumWorkers <= 0 {
		return nil, fmt.Errorf("%w: detection pool needs at least one worker, got %d", models.ErrInvalidConfig, cfg.Pool.NumWorkers)
	}

	sched := cameras.NewScheduler()
	registry, err := cameras.NewRegistry(deps.Cameras, deps.Open, sched, cfg.Registry, logger)
	if err != nil {
		return nil, err
	}
	if deps.Live != nil {
		registry.Observe(deps.Live.Publish)
	}

	store := recognition.NewEncodingStore(cfg.MatchThreshold, deps.Enroller, deps.Watchlist, logger)
	manager := alerts.NewManager(cfg.Alerts, deps.Detections, deps.Alerts, store, deps.Cooldown, registry, deps.Hub, deps.Snapshots, logger)

	pool, err := workers.NewDetectionPool(cfg.Pool, sched, deps.NewAnalyzer, store, manager, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Registry:  registry,
		Scheduler: sched,
		Encodings: store,
		Pool:      pool,
		Alerts:    manager,
		Hub:       deps.Hub,
		Live:      deps.Live,
		restore:   cfg.RestoreCameras,
		logger:    logger.Named("pipeline"),
	}
	deps.Hub.Bind(registry, p)
	return p, nil
}

// Init loads the watchlist, the known encodings and the cameras, then restarts
// cameras that were running. A failed encoding load leaves the store empty and
// is logged, since the pipeline can run and be reloaded later.
func (p *Pipeline) Init(ctx context.Context) error {
	if err := p.Encodings.LoadWatchlist(); err != nil {
		return err
	}
	if err := p.Encodings.Reload(ctx); err != nil {
		p.logger.Warn("initial encoding load failed", zap.Error(err))
	}
	if err := p.Registry.Load(); err != nil {
		return err
	}
	if p.restore {
		if err := p.Registry.Restore(); err != nil {
			p.logger.Warn("some cameras could not be restored", zap.Error(err))
		}
	}
	return nil
}

// StartEngine resumes detection.
func (p *Pipeline) StartEngine() models.EngineHealth {
	p.Pool.Resume()
	return p.Health()
}

// StopEngine pauses detection. Frames keep flowing into the buses and age out.
func (p *Pipeline) StopEngine() models.EngineHealth {
	p.Pool.Pause()
	return p.Health()
}

// Reload swaps in a freshly loaded encoding snapshot. Lookups in progress
// finish against the old one.
func (p *Pipeline) Reload(ctx context.Context) (models.EngineHealth, error) {
	started := time.Now()
	err := p.Encodings.Reload(ctx)
	if err != nil {
		p.logger.Error("encoding reload failed", zap.Error(err))
	} else {
		p.logger.Info("encodings reloaded",
			zap.Int("people", p.Encodings.KnownPeople()),
			zap.Int("encodings", p.Encodings.TotalEncodings()),
			zap.Duration("took", time.Since(started)))
	}
	return p.Health(), err
}

// Health merges pool, encoding and alert status.
func (p *Pipeline) Health() models.EngineHealth {
	h := p.Pool.Health()
	h.KnownPeople = p.Encodings.KnownPeople()
	h.TotalEncodings = p.Encodings.TotalEncodings()
	h.WatchlistCount = p.Encodings.WatchlistCount()
	st := p.Alerts.Stats()
	h.AlertsCreated = st.Created
	h.AlertsSuppressed = st.Suppressed
	if at := p.Encodings.LoadedAt(); !at.IsZero() {
		h.ReloadedAt = at.Unix()
	}
	return h
}

// RemoveCamera deletes a stopped camera and its live stream.
func (p *Pipeline) RemoveCamera(id uint) error {
	if err := p.Registry.Remove(id); err != nil {
		return err
	}
	if p.Live != nil {
		p.Live.Forget(id)
	}
	return nil
}

// Shutdown pauses detection, stops every camera without touching its desired
// state and waits for the workers to exit.
func (p *Pipeline) Shutdown() {
	p.logger.Info("shutting down pipeline")
	p.Pool.Pause()
	p.Registry.Shutdown()
	p.Pool.Stop()
}

// CameraService exposes camera operations, removing live streams together
// with their camera.
type CameraService struct {
	*cameras.Registry
	p *Pipeline
}

// Cameras returns the camera operations of the pipeline.
func (p *Pipeline) Cameras() CameraService {
	return CameraService{Registry: p.Registry, p: p}
}

func (c CameraService) Remove(id uint) error {
	return c.p.RemoveCamera(id)
}
