package cameras

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/repository"
	"go.uber.org/zap"
)

// RegistryConfig configures sources started by the registry.
type RegistryConfig struct {
	Source       SourceConfig
	BusCapacity  int
	StartTimeout time.Duration // how long Start waits for the first connection attempt
}

type entry struct {
	lifecycle sync.Mutex // serializes start, stop and remove of one camera

	// guarded by Registry.mu
	camera models.Camera
	source *FrameSource
	bus    *FrameBus
	cancel context.CancelFunc
}

// Registry owns camera lifecycle and runtime status.
type Registry struct {
	repo    repository.CameraRepositoryInterface
	open    Opener
	sched   *Scheduler
	cfg     RegistryConfig
	observe func(Frame)
	logger  *zap.Logger

	mu      sync.RWMutex
	cameras map[uint]*entry
}

// NewRegistry creates a registry. Started cameras register their buses with sched.
func NewRegistry(repo repository.CameraRepositoryInterface, open Opener, sched *Scheduler, cfg RegistryConfig, logger *zap.Logger) (*Registry, error) {
	if cfg.BusCapacity <= 0 {
		return nil, fmt.Errorf("%w: frame bus capacity must be positive, got %d", models.ErrInvalidConfig, cfg.BusCapacity)
	}
	return &Registry{
		repo:    repo,
		open:    open,
		sched:   sched,
		cfg:     cfg,
		logger:  logger.Named("cameras"),
		cameras: make(map[uint]*entry),
	}, nil
}

// Observe registers a callback that sees every decoded frame of every camera.
// It must be set before cameras are started.
func (r *Registry) Observe(fn func(Frame)) {
	r.observe = fn
}

// Load reads the persisted cameras into the registry.
func (r *Registry) Load() error {
	cams, err := r.repo.ListAll()
	if err != nil {
		return fmt.Errorf("failed to load cameras: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cams {
		if _, ok := r.cameras[c.ID]; !ok {
			r.cameras[c.ID] = &entry{camera: c}
		}
	}
	r.logger.Info("cameras loaded", zap.Int("count", len(cams)))
	return nil
}

// Restore starts every camera whose desired state is running.
func (r *Registry) Restore() error {
	var errs []error
	for _, c := range r.snapshot() {
		if c.DesiredState != models.DesiredRunning {
			continue
		}
		if err := r.Start(c.ID); err != nil && !errors.Is(err, models.ErrStartFailure) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Add registers a new camera and returns its id.
func (r *Registry) Add(camera models.Camera) (uint, error) {
	camera.Name = strings.TrimSpace(camera.Name)
	camera.StreamURL = strings.TrimSpace(camera.StreamURL)
	if camera.Name == "" || camera.StreamURL == "" {
		return 0, fmt.Errorf("%w: camera name and stream url are required", models.ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.cameras {
		if strings.EqualFold(e.camera.Name, camera.Name) {
			return 0, fmt.Errorf("%w: camera named %q already exists", models.ErrConflict, camera.Name)
		}
	}

	camera.ID = 0
	camera.DesiredState = models.DesiredStopped
	if err := r.repo.Create(&camera); err != nil {
		return 0, err
	}
	r.cameras[camera.ID] = &entry{camera: camera}
	r.logger.Info("camera added", zap.Uint("camera_id", camera.ID), zap.String("name", camera.Name))
	return camera.ID, nil
}

// Update changes name, stream url and location of a stopped camera.
func (r *Registry) Update(id uint, name, streamURL string, location *string) (models.Camera, error) {
	e, err := r.lock(id)
	if err != nil {
		return models.Camera{}, err
	}
	defer e.lifecycle.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if e.source != nil {
		return models.Camera{}, fmt.Errorf("%w: camera %d is running", models.ErrConflict, id)
	}
	updated := e.camera
	if name = strings.TrimSpace(name); name != "" {
		for otherID, other := range r.cameras {
			if otherID != id && strings.EqualFold(other.camera.Name, name) {
				return models.Camera{}, fmt.Errorf("%w: camera named %q already exists", models.ErrConflict, name)
			}
		}
		updated.Name = name
	}
	if streamURL = strings.TrimSpace(streamURL); streamURL != "" {
		updated.StreamURL = streamURL
	}
	if location != nil {
		updated.Location = location
	}
	if err := r.repo.Update(&updated); err != nil {
		return models.Camera{}, err
	}
	e.camera = updated
	return updated, nil
}

// Remove deletes a stopped camera. Removing a running camera is a conflict.
func (r *Registry) Remove(id uint) error {
	e, err := r.lock(id)
	if err != nil {
		return err
	}
	defer e.lifecycle.Unlock()

	r.mu.RLock()
	running := e.source != nil
	r.mu.RUnlock()
	if running {
		return fmt.Errorf("%w: camera %d is running, stop it first", models.ErrConflict, id)
	}
	if err := r.repo.Delete(id); err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	r.mu.Lock()
	delete(r.cameras, id)
	r.mu.Unlock()
	r.logger.Info("camera removed", zap.Uint("camera_id", id))
	return nil
}

// Start spawns a frame source for the camera. Starting a running camera is a no-op.
// If the first connection attempt fails, Start returns an ErrStartFailure while the
// source keeps retrying in the background.
func (r *Registry) Start(id uint) error {
	e, err := r.lock(id)
	if err != nil {
		return err
	}
	defer e.lifecycle.Unlock()

	r.mu.Lock()
	if e.source != nil {
		r.mu.Unlock()
		return nil
	}
	bus := NewFrameBus(r.cfg.BusCapacity)
	src := NewFrameSource(e.camera, r.open, bus, r.cfg.Source, r.observe, r.logger)
	ctx, cancel := context.WithCancel(context.Background())
	e.source, e.bus, e.cancel = src, bus, cancel
	e.camera.DesiredState = models.DesiredRunning
	r.mu.Unlock()

	r.sched.Add(id, bus)
	go src.Run(ctx)
	r.persistState(id, models.DesiredRunning)
	r.logger.Info("camera started", zap.Uint("camera_id", id))

	if r.cfg.StartTimeout <= 0 {
		return nil
	}
	timer := time.NewTimer(r.cfg.StartTimeout)
	defer timer.Stop()
	select {
	case err := <-src.Ready():
		if err != nil {
			return fmt.Errorf("%w: camera %d: %w", models.ErrStartFailure, id, err)
		}
	case <-timer.C:
		r.logger.Warn("camera still connecting", zap.Uint("camera_id", id))
	}
	return nil
}

// Stop terminates the camera's source and discards its queued frames. It blocks
// until the source has exited and in-flight frames are finished.
func (r *Registry) Stop(id uint) error {
	return r.stop(id, true)
}

func (r *Registry) stop(id uint, persist bool) error {
	e, err := r.lock(id)
	if err != nil {
		return err
	}
	defer e.lifecycle.Unlock()

	r.mu.Lock()
	src, bus, cancel := e.source, e.bus, e.cancel
	e.source, e.bus, e.cancel = nil, nil, nil
	if persist {
		e.camera.DesiredState = models.DesiredStopped
	}
	r.mu.Unlock()

	if persist {
		r.persistState(id, models.DesiredStopped)
	}
	if src == nil {
		return nil
	}

	r.sched.Remove(id)
	cancel()
	<-src.Done()
	discarded := bus.Close()
	r.logger.Info("camera stopped", zap.Uint("camera_id", id), zap.Int("discarded_frames", discarded))
	return nil
}

// StartAll starts every registered camera.
func (r *Registry) StartAll() error {
	var errs []error
	for _, c := range r.snapshot() {
		if err := r.Start(c.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every registered camera.
func (r *Registry) StopAll() error {
	var errs []error
	for _, c := range r.snapshot() {
		if err := r.Stop(c.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown stops all sources without changing their desired state.
func (r *Registry) Shutdown() {
	for _, c := range r.snapshot() {
		if err := r.stop(c.ID, false); err != nil {
			r.logger.Warn("camera shutdown failed", zap.Uint("camera_id", c.ID), zap.Error(err))
		}
	}
}

// Get returns a camera by id.
func (r *Registry) Get(id uint) (models.Camera, error) {
	e, err := r.get(id)
	if err != nil {
		return models.Camera{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.camera, nil
}

// CameraName returns the camera name, or a placeholder for unknown ids.
func (r *Registry) CameraName(id uint) string {
	if c, err := r.Get(id); err == nil {
		return c.Name
	}
	return fmt.Sprintf("camera %d", id)
}

// Status returns the runtime status of a camera with a live source.
func (r *Registry) Status(id uint) (models.RuntimeStatus, bool) {
	r.mu.RLock()
	e, ok := r.cameras[id]
	var src *FrameSource
	if ok {
		src = e.source
	}
	r.mu.RUnlock()
	if src == nil {
		return models.RuntimeStatus{}, false
	}
	return src.Status(), true
}

// List returns every camera with its runtime status, ordered by id.
func (r *Registry) List() []models.CameraView {
	r.mu.RLock()
	views := make([]models.CameraView, 0, len(r.cameras))
	sources := make([]*FrameSource, 0, len(r.cameras))
	for _, e := range r.cameras {
		views = append(views, models.CameraView{Camera: e.camera})
		sources = append(sources, e.source)
	}
	r.mu.RUnlock()

	for i, src := range sources {
		if src != nil {
			st := src.Status()
			views[i].Status = &st
		}
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// Counts returns the number of cameras and how many report running.
func (r *Registry) Counts() (total, active int) {
	for _, v := range r.List() {
		total++
		if v.Status != nil && v.Status.IsRunning {
			active++
		}
	}
	return total, active
}

func (r *Registry) get(id uint) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cameras[id]
	if !ok {
		return nil, fmt.Errorf("camera %d: %w", id, models.ErrNotFound)
	}
	return e, nil
}

// lock takes the lifecycle lock of a camera. A camera removed while the caller
// waited for the lock is reported as not found.
func (r *Registry) lock(id uint) (*entry, error) {
	e, err := r.get(id)
	if err != nil {
		return nil, err
	}
	e.lifecycle.Lock()
	r.mu.RLock()
	current := r.cameras[id]
	r.mu.RUnlock()
	if current != e {
		e.lifecycle.Unlock()
		return nil, fmt.Errorf("camera %d: %w", id, models.ErrNotFound)
	}
	return e, nil
}

func (r *Registry) snapshot() []models.Camera {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cams := make([]models.Camera, 0, len(r.cameras))
	for _, e := range r.cameras {
		cams = append(cams, e.camera)
	}
	sort.Slice(cams, func(i, j int) bool { return cams[i].ID < cams[j].ID })
	return cams
}

func (r *Registry) persistState(id uint, state models.DesiredState) {
	if err := r.repo.UpdateDesiredState(id, state); err != nil {
		r.logger.Warn("failed to persist camera state", zap.Uint("camera_id", id), zap.String("state", string(state)), zap.Error(err))
	}
}
