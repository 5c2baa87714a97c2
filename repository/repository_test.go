package repository

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Camera{}, &models.DetectionEvent{}, &models.Alert{}, &models.WatchlistEntry{}, &models.FaceEncoding{}))
	return db
}

func TestCameraRepository(t *testing.T) {
	repo := NewCameraRepository(newTestDB(t))

	cam := &models.Camera{Name: "lobby", StreamURL: "rtsp://lobby"}
	require.NoError(t, repo.Create(cam))
	require.NotZero(t, cam.ID)
	assert.Equal(t, models.DesiredStopped, cam.DesiredState)
	assert.NotZero(t, cam.CreatedAt)

	assert.Error(t, repo.Create(&models.Camera{Name: "lobby", StreamURL: "rtsp://dup"}))

	loc := "east"
	cam.StreamURL = "rtsp://lobby2"
	cam.Location = &loc
	require.NoError(t, repo.Update(cam))
	require.NoError(t, repo.UpdateDesiredState(cam.ID, models.DesiredRunning))

	got, err := repo.GetByID(cam.ID)
	require.NoError(t, err)
	assert.Equal(t, "rtsp://lobby2", got.StreamURL)
	assert.Equal(t, "east", *got.Location)
	assert.Equal(t, models.DesiredRunning, got.DesiredState)

	require.NoError(t, repo.Create(&models.Camera{Name: "dock", StreamURL: "rtsp://dock"}))
	all, err := repo.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "lobby", all[0].Name)

	require.NoError(t, repo.Delete(cam.ID))
	_, err = repo.GetByID(cam.ID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, errors.Is(repo.Delete(cam.ID), models.ErrNotFound))
	assert.True(t, errors.Is(repo.UpdateDesiredState(cam.ID, models.DesiredStopped), models.ErrNotFound))
}

func TestDetectionRepositoryList(t *testing.T) {
	repo := NewDetectionRepository(newTestDB(t))
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"alice", "bob", "alice", models.UnknownPerson} {
		require.NoError(t, repo.Create(&models.DetectionEvent{
			CameraID:   uint(1 + i%2),
			PersonName: name,
			Confidence: 0.8,
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Box:        models.BoundingBox{X: i, Y: i, W: 10, H: 10},
		}))
	}

	all, err := repo.List(DetectionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, models.UnknownPerson, all[0].PersonName, "newest first")
	assert.Equal(t, models.BoundingBox{X: 3, Y: 3, W: 10, H: 10}, all[0].Box)

	cam := uint(1)
	byCamera, err := repo.List(DetectionFilter{CameraID: &cam})
	require.NoError(t, err)
	assert.Len(t, byCamera, 2)

	alice, err := repo.List(DetectionFilter{PersonName: "alice", Limit: 1})
	require.NoError(t, err)
	require.Len(t, alice, 1)
	assert.True(t, alice[0].Timestamp.Equal(base.Add(2*time.Minute)))

	since := base.Add(90 * time.Second)
	recent, err := repo.List(DetectionFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestAlertRepositoryAcknowledge(t *testing.T) {
	repo := NewAlertRepository(newTestDB(t))
	now := time.Now().UTC()
	require.NoError(t, repo.Create(&models.Alert{ID: "a1", CameraID: 1, PersonName: "bob", AlertLevel: "high", Confidence: 0.9, Timestamp: now}))
	require.NoError(t, repo.Create(&models.Alert{ID: "a2", CameraID: 2, PersonName: "eve", AlertLevel: "info", Confidence: 0.7, Timestamp: now.Add(time.Second)}))

	alert, changed, err := repo.Acknowledge("a1", now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, alert.Acknowledged)
	require.NotNil(t, alert.AcknowledgedAt)

	alert, changed, err = repo.Acknowledge("a1", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, alert.Acknowledged)

	_, _, err = repo.Acknowledge("missing", now)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	open := false
	pending, err := repo.List(AlertFilter{Acknowledged: &open})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a2", pending[0].ID)

	all, err := repo.List(AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a2", all[0].ID)

	cam := uint(1)
	byCamera, err := repo.List(AlertFilter{CameraID: &cam})
	require.NoError(t, err)
	require.Len(t, byCamera, 1)

	got, err := repo.GetByID("a1")
	require.NoError(t, err)
	assert.True(t, got.Acknowledged)
	_, err = repo.GetByID("nope")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestAlertRepositorySetSnapshotPath(t *testing.T) {
	repo := NewAlertRepository(newTestDB(t))
	require.NoError(t, repo.Create(&models.Alert{ID: "a1", CameraID: 1, PersonName: "bob", AlertLevel: "high", Timestamp: time.Now()}))

	require.NoError(t, repo.SetSnapshotPath("a1", "/api/snapshots/a1.jpg"))
	got, err := repo.GetByID("a1")
	require.NoError(t, err)
	require.NotNil(t, got.SnapshotPath)
	assert.Equal(t, "/api/snapshots/a1.jpg", *got.SnapshotPath)

	assert.True(t, errors.Is(repo.SetSnapshotPath("missing", "x"), models.ErrNotFound))
}

func TestWatchlistRepositoryUpsert(t *testing.T) {
	repo := NewWatchlistRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(&models.WatchlistEntry{PersonName: "mallory", ThreatLevel: models.ThreatHigh}))
	require.NoError(t, repo.Upsert(&models.WatchlistEntry{PersonName: "mallory", ThreatLevel: models.ThreatLow, Description: "cleared"}))
	require.NoError(t, repo.Upsert(&models.WatchlistEntry{PersonName: "eve", ThreatLevel: models.ThreatMedium}))

	entries, err := repo.ListAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "eve", entries[0].PersonName)

	got, err := repo.GetByName("mallory")
	require.NoError(t, err)
	assert.Equal(t, models.ThreatLow, got.ThreatLevel)
	assert.Equal(t, "cleared", got.Description)

	require.NoError(t, repo.Delete("mallory"))
	_, err = repo.GetByName("mallory")
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.True(t, errors.Is(repo.Delete("mallory"), models.ErrNotFound))
}

func TestWatchlistRepositoryNamesIgnoreCase(t *testing.T) {
	repo := NewWatchlistRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(&models.WatchlistEntry{PersonName: "Bob", ThreatLevel: models.ThreatHigh}))
	require.NoError(t, repo.Upsert(&models.WatchlistEntry{PersonName: "bob", ThreatLevel: models.ThreatLow}))

	entries, err := repo.ListAll()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].PersonName)
	assert.Equal(t, models.ThreatLow, entries[0].ThreatLevel)

	got, err := repo.GetByName(" BOB ")
	require.NoError(t, err)
	assert.Equal(t, entries[0].ID, got.ID)

	require.NoError(t, repo.Delete("BOB"))
	entries, err = repo.ListAll()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFaceEncodingRepositoryReplaceAll(t *testing.T) {
	repo := NewFaceEncodingRepository(newTestDB(t))

	first := models.FaceEncoding{PersonName: "alice", EnrolledAt: 200}
	first.SetEncoding([]float32{0.5, -1})
	second := models.FaceEncoding{PersonName: "bob", EnrolledAt: 100}
	second.SetEncoding([]float32{2, 3})
	require.NoError(t, repo.ReplaceAll([]models.FaceEncoding{first, second}))

	rows, err := repo.ListAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "bob", rows[0].PersonName)
	assert.Equal(t, []float32{0.5, -1}, rows[1].GetEncoding())
	assert.Equal(t, 2, rows[1].Dimensions)

	require.NoError(t, repo.ReplaceAll(nil))
	rows, err = repo.ListAll()
	require.NoError(t, err)
	assert.Empty(t, rows)
}
