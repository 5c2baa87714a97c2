package cameras

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memCameraRepo struct {
	mu      sync.Mutex
	nextID  uint
	cameras map[uint]models.Camera
}

func newMemCameraRepo(seed ...models.Camera) *memCameraRepo {
	r := &memCameraRepo{nextID: 1, cameras: map[uint]models.Camera{}}
	for _, c := range seed {
		r.cameras[c.ID] = c
		if c.ID >= r.nextID {
			r.nextID = c.ID + 1
		}
	}
	return r
}

func (r *memCameraRepo) Create(c *models.Camera) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = r.nextID
	r.nextID++
	r.cameras[c.ID] = *c
	return nil
}

func (r *memCameraRepo) GetByID(id uint) (*models.Camera, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cameras[id]
	if !ok {
		return nil, fmt.Errorf("camera %d: %w", id, models.ErrNotFound)
	}
	return &c, nil
}

func (r *memCameraRepo) ListAll() ([]models.Camera, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Camera, 0, len(r.cameras))
	for _, c := range r.cameras {
		out = append(out, c)
	}
	return out, nil
}

func (r *memCameraRepo) Update(c *models.Camera) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cameras[c.ID] = *c
	return nil
}

func (r *memCameraRepo) UpdateDesiredState(id uint, state models.DesiredState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cameras[id]
	if !ok {
		return models.ErrNotFound
	}
	c.DesiredState = state
	r.cameras[id] = c
	return nil
}

func (r *memCameraRepo) Delete(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cameras, id)
	return nil
}

func (r *memCameraRepo) desired(id uint) models.DesiredState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cameras[id].DesiredState
}

func newTestRegistry(t *testing.T, repo *memCameraRepo, op *scriptOpener) (*Registry, *Scheduler) {
	t.Helper()
	sched := NewScheduler()
	reg, err := NewRegistry(repo, op.open, sched, RegistryConfig{
		Source:       testSourceConfig(),
		BusCapacity:  4,
		StartTimeout: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(reg.Shutdown)
	return reg, sched
}

func TestRegistryRejectsBadBusCapacity(t *testing.T) {
	_, err := NewRegistry(newMemCameraRepo(), nil, NewScheduler(), RegistryConfig{}, zap.NewNop())
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))
}

func TestRegistryAddAndUpdate(t *testing.T) {
	repo := newMemCameraRepo()
	reg, _ := newTestRegistry(t, repo, &scriptOpener{reads: make(chan readResult)})

	id, err := reg.Add(models.Camera{Name: " Lobby ", StreamURL: "rtsp://lobby"})
	require.NoError(t, err)
	cam, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Lobby", cam.Name)
	assert.Equal(t, models.DesiredStopped, cam.DesiredState)

	_, err = reg.Add(models.Camera{Name: "lobby", StreamURL: "rtsp://other"})
	assert.True(t, errors.Is(err, models.ErrConflict))
	_, err = reg.Add(models.Camera{Name: "nourl"})
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))

	other, err := reg.Add(models.Camera{Name: "Dock", StreamURL: "rtsp://dock"})
	require.NoError(t, err)
	_, err = reg.Update(other, "LOBBY", "", nil)
	assert.True(t, errors.Is(err, models.ErrConflict))

	loc := "north gate"
	updated, err := reg.Update(id, "", "rtsp://lobby2", &loc)
	require.NoError(t, err)
	assert.Equal(t, "Lobby", updated.Name)
	assert.Equal(t, "rtsp://lobby2", updated.StreamURL)
	assert.Equal(t, "north gate", *updated.Location)

	_, err = reg.Get(99)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Equal(t, "camera 99", reg.CameraName(99))
	assert.Equal(t, "Lobby", reg.CameraName(id))
}

func TestRegistryStartStop(t *testing.T) {
	repo := newMemCameraRepo()
	op := &scriptOpener{reads: make(chan readResult, 8)}
	reg, sched := newTestRegistry(t, repo, op)
	id, err := reg.Add(models.Camera{Name: "lobby", StreamURL: "rtsp://lobby"})
	require.NoError(t, err)

	_, running := reg.Status(id)
	assert.False(t, running)

	require.NoError(t, reg.Start(id))
	require.NoError(t, reg.Start(id))
	assert.Equal(t, 1, op.Opens())
	assert.Equal(t, models.DesiredRunning, repo.desired(id))
	assert.Equal(t, 1, sched.Len())

	for i := 0; i < 3; i++ {
		op.reads <- readResult{frame: Frame{Data: []byte{1}}}
	}
	require.Eventually(t, func() bool {
		st, ok := reg.Status(id)
		return ok && st.QueueSize == 3
	}, time.Second, time.Millisecond)

	_, err = reg.Update(id, "renamed", "", nil)
	assert.True(t, errors.Is(err, models.ErrConflict))
	assert.True(t, errors.Is(reg.Remove(id), models.ErrConflict))

	total, active := reg.Counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, active)

	require.NoError(t, reg.Stop(id))
	_, running = reg.Status(id)
	assert.False(t, running)
	assert.Equal(t, 0, sched.Len())
	assert.Equal(t, models.DesiredStopped, repo.desired(id))
	_, _, ok := sched.Next()
	assert.False(t, ok)

	require.NoError(t, reg.Remove(id))
	_, err = reg.Get(id)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRegistryStartFailureKeepsRetrying(t *testing.T) {
	repo := newMemCameraRepo()
	op := &scriptOpener{failN: 1000}
	reg, _ := newTestRegistry(t, repo, op)
	id, err := reg.Add(models.Camera{Name: "down", StreamURL: "rtsp://down"})
	require.NoError(t, err)

	err = reg.Start(id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStartFailure))
	assert.True(t, errors.Is(err, models.ErrConnection))

	_, running := reg.Status(id)
	assert.True(t, running)
	require.Eventually(t, func() bool { return op.Opens() > 2 }, time.Second, time.Millisecond)
	assert.Equal(t, models.DesiredRunning, repo.desired(id))
}

func TestRegistryRestoreAndShutdown(t *testing.T) {
	repo := newMemCameraRepo(
		models.Camera{ID: 1, Name: "a", StreamURL: "rtsp://a", DesiredState: models.DesiredRunning},
		models.Camera{ID: 2, Name: "b", StreamURL: "rtsp://b", DesiredState: models.DesiredStopped},
	)
	op := &scriptOpener{reads: make(chan readResult)}
	reg, _ := newTestRegistry(t, repo, op)

	require.NoError(t, reg.Load())
	require.NoError(t, reg.Restore())

	views := reg.List()
	require.Len(t, views, 2)
	assert.Equal(t, uint(1), views[0].ID)
	assert.NotNil(t, views[0].Status)
	assert.Nil(t, views[1].Status)

	reg.Shutdown()
	_, running := reg.Status(1)
	assert.False(t, running)
	assert.Equal(t, models.DesiredRunning, repo.desired(1))
}

// blockingDeleteRepo holds Delete until release is closed.
type blockingDeleteRepo struct {
	*memCameraRepo
	entered chan struct{}
	release chan struct{}
}

func (r *blockingDeleteRepo) Delete(id uint) error {
	close(r.entered)
	<-r.release
	return r.memCameraRepo.Delete(id)
}

func TestRegistryStartRacingRemoveStartsNothing(t *testing.T) {
	repo := &blockingDeleteRepo{
		memCameraRepo: newMemCameraRepo(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	op := &scriptOpener{reads: make(chan readResult)}
	sched := NewScheduler()
	reg, err := NewRegistry(repo, op.open, sched, RegistryConfig{
		Source:       testSourceConfig(),
		BusCapacity:  4,
		StartTimeout: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(reg.Shutdown)

	id, err := reg.Add(models.Camera{Name: "gate", StreamURL: "rtsp://gate"})
	require.NoError(t, err)

	removed := make(chan error, 1)
	go func() { removed <- reg.Remove(id) }()
	<-repo.entered

	started := make(chan error, 1)
	go func() { started <- reg.Start(id) }()
	time.Sleep(20 * time.Millisecond)
	close(repo.release)

	require.NoError(t, <-removed)
	err = <-started
	assert.True(t, errors.Is(err, models.ErrNotFound), "start after remove: %v", err)

	assert.Equal(t, 0, sched.Len())
	assert.Equal(t, 0, op.Opens())
	_, _, ok := sched.Next()
	assert.False(t, ok)
	_, running := reg.Status(id)
	assert.False(t, running)
}
