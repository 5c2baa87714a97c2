package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/camden-git/facesentry/alerts"
	"github.com/camden-git/facesentry/cameras"
	"github.com/camden-git/facesentry/database"
	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/realtime"
	"github.com/camden-git/facesentry/recognition"
	"github.com/camden-git/facesentry/repository"
	"github.com/camden-git/facesentry/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeStream replays frames pushed to its channel. Each frame payload names
// the person in it.
type fakeStream struct {
	ctx    context.Context
	frames chan string
}

func (s *fakeStream) Read() (cameras.Frame, error) {
	select {
	case name := <-s.frames:
		return cameras.Frame{Data: []byte(name), Width: 64, Height: 64}, nil
	case <-s.ctx.Done():
		return cameras.Frame{}, s.ctx.Err()
	}
}

func (s *fakeStream) Close() error { return nil }

// nameAnalyzer finds one face whose encoding depends on the frame payload.
type nameAnalyzer struct{}

var testEncodings = map[string][]float32{
	"alice":    {1, 0},
	"bob":      {0, 1},
	"stranger": {5, 5},
}

func (nameAnalyzer) Analyze(_ context.Context, data []byte) ([]models.Face, error) {
	enc, ok := testEncodings[string(data)]
	if !ok {
		return nil, nil
	}
	return []models.Face{{Box: models.BoundingBox{X: 10, Y: 10, W: 20, H: 20}, Score: 0.9, Encoding: enc}}, nil
}

func (nameAnalyzer) Close() error { return nil }

type staticEnroller struct {
	fail atomic.Bool
}

func (e *staticEnroller) Load(context.Context) ([]recognition.KnownIdentity, error) {
	if e.fail.Load() {
		return nil, errors.New("known faces directory unavailable")
	}
	return []recognition.KnownIdentity{
		{PersonName: "alice", Encodings: [][]float32{testEncodings["alice"]}},
		{PersonName: "bob", Encodings: [][]float32{testEncodings["bob"]}},
	}, nil
}

type testPipeline struct {
	*Pipeline
	db       *gorm.DB
	frames   chan string
	enroller *staticEnroller
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.InitGormDB(database.DriverSQLite, dsn, zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrateModels(db))
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func newTestPipeline(t *testing.T, autoStart bool) *testPipeline {
	t.Helper()
	db := newTestDB(t)
	frames := make(chan string, 16)
	enroller := &staticEnroller{}

	open := func(ctx context.Context, locator string) (cameras.Stream, error) {
		return &fakeStream{ctx: ctx, frames: frames}, nil
	}
	cfg := PipelineConfig{
		Registry: cameras.RegistryConfig{
			BusCapacity:  4,
			StartTimeout: time.Second,
			Source:       cameras.SourceConfig{Backoff: cameras.BackoffPolicy{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond}},
		},
		Pool:           workers.PoolConfig{NumWorkers: 2, IdleInterval: 5 * time.Millisecond, AutoStart: autoStart},
		Alerts:         alerts.Config{Cooldown: time.Minute, AlertOnKnown: true},
		MatchThreshold: 0.5,
	}
	deps := PipelineDeps{
		Cameras:     repository.NewCameraRepository(db),
		Detections:  repository.NewDetectionRepository(db),
		Alerts:      repository.NewAlertRepository(db),
		Watchlist:   repository.NewWatchlistRepository(db),
		Open:        open,
		NewAnalyzer: func(int) (workers.Analyzer, error) { return nameAnalyzer{}, nil },
		Enroller:    enroller,
		Hub:         realtime.NewHub(realtime.HubConfig{}, zap.NewNop()),
		Live:        NewLiveView(),
	}
	p, err := NewPipeline(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Init(context.Background()))
	t.Cleanup(p.Shutdown)
	return &testPipeline{Pipeline: p, db: db, frames: frames, enroller: enroller}
}

func (tp *testPipeline) addCamera(t *testing.T, name string) uint {
	t.Helper()
	id, err := tp.Registry.Add(models.Camera{Name: name, StreamURL: "fake://" + name})
	require.NoError(t, err)
	require.NoError(t, tp.Registry.Start(id))
	return id
}

func (tp *testPipeline) countDetections(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, tp.db.Model(&models.DetectionEvent{}).Count(&n).Error)
	return n
}

func TestPipelineDeduplicatesAndEscalatesWatchlist(t *testing.T) {
	tp := newTestPipeline(t, true)
	_, err := tp.Encodings.UpsertWatchlist(models.WatchlistEntry{PersonName: "Bob", ThreatLevel: models.ThreatHigh})
	require.NoError(t, err)

	sub := tp.Hub.Subscribe()
	defer tp.Hub.Unsubscribe(sub)

	camID := tp.addCamera(t, "Front Door")
	for i, name := range []string{"alice", "alice", "alice", "bob"} {
		tp.frames <- name
		want := int64(i + 1)
		require.Eventually(t, func() bool { return tp.countDetections(t) == want }, 2*time.Second, 10*time.Millisecond)
	}

	list, err := tp.Alerts.List(repository.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	levels := map[string]string{}
	for _, a := range list {
		levels[a.PersonName] = a.AlertLevel
		assert.Equal(t, camID, a.CameraID)
		assert.Contains(t, a.Notes, "Front Door")
	}
	assert.Equal(t, models.AlertLevelInfo, levels["alice"])
	assert.Equal(t, string(models.ThreatHigh), levels["bob"])
	assert.Equal(t, uint64(2), tp.Alerts.SuppressedFor(camID, "alice"))

	h := tp.Health()
	assert.True(t, h.Running)
	assert.Equal(t, 2, h.KnownPeople)
	assert.Equal(t, 1, h.WatchlistCount)
	assert.Equal(t, uint64(2), h.AlertsCreated)
	assert.Equal(t, uint64(2), h.AlertsSuppressed)

	st := tp.Hub.Snapshot()
	assert.Equal(t, int64(4), st.TotalDetections)
	assert.Equal(t, int64(2), st.UnacknowledgedAlerts)
	assert.Equal(t, 1, st.TotalCameras)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := sub.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, realtime.TypeAlerts, msg.Type)
}

func TestPipelineStopDiscardsQueuedFrames(t *testing.T) {
	tp := newTestPipeline(t, false)
	camID := tp.addCamera(t, "Garage")

	for i := 0; i < 3; i++ {
		tp.frames <- "alice"
	}
	require.Eventually(t, func() bool {
		st, ok := tp.Registry.Status(camID)
		return ok && st.QueueSize == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, tp.Registry.Stop(camID))
	tp.StartEngine()
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, tp.countDetections(t))
	cam, err := tp.Registry.Get(camID)
	require.NoError(t, err)
	assert.Equal(t, models.DesiredStopped, cam.DesiredState)
}

func TestPipelineReloadFailureKeepsSnapshot(t *testing.T) {
	tp := newTestPipeline(t, false)
	before := tp.Health()
	require.Equal(t, 2, before.KnownPeople)

	tp.enroller.fail.Store(true)
	h, err := tp.Reload(context.Background())
	assert.ErrorIs(t, err, models.ErrReload)
	assert.Equal(t, 2, h.KnownPeople)
	assert.Equal(t, before.ReloadedAt, h.ReloadedAt)
	assert.Equal(t, "alice", tp.Encodings.Lookup(testEncodings["alice"]).PersonName)
}

func TestPipelineEngineToggle(t *testing.T) {
	tp := newTestPipeline(t, false)
	assert.False(t, tp.Health().Running)
	assert.True(t, tp.StartEngine().Running)
	assert.False(t, tp.StopEngine().Running)
}

func TestPipelineRejectsInvalidConfig(t *testing.T) {
	hub := realtime.NewHub(realtime.HubConfig{}, zap.NewNop())
	_, err := NewPipeline(PipelineConfig{Registry: cameras.RegistryConfig{BusCapacity: 2}}, PipelineDeps{Hub: hub}, zap.NewNop())
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	_, err = NewPipeline(PipelineConfig{Pool: workers.PoolConfig{NumWorkers: 1}}, PipelineDeps{Hub: hub}, zap.NewNop())
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestPipelineRemoveRunningCameraConflicts(t *testing.T) {
	tp := newTestPipeline(t, false)
	camID := tp.addCamera(t, "Lobby")

	assert.ErrorIs(t, tp.RemoveCamera(camID), models.ErrConflict)
	require.NoError(t, tp.Registry.Stop(camID))
	require.NoError(t, tp.RemoveCamera(camID))
	_, err := tp.Registry.Get(camID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
