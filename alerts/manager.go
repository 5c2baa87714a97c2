package alerts

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/camden-git/facesentry/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ThreatLookup resolves the watchlist threat level of a person.
type ThreatLookup interface {
	IsWatchlisted(personName string) (models.ThreatLevel, bool)
}

// Notifier receives pipeline activity for statistics and broadcast.
type Notifier interface {
	RecordDetection(event models.DetectionEvent)
	PublishAlert(alert models.Alert)
	RecordAcknowledgement()
}

// SnapshotSaver stores the face region of an alert and returns its path.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, alertID string, at time.Time, frame []byte, box models.BoundingBox) (string, error)
}

// CameraNamer resolves camera ids to display names.
type CameraNamer interface {
	CameraName(id uint) string
}

// Config holds the alert policy.
type Config struct {
	Cooldown       time.Duration
	AlertOnKnown   bool // info alerts for known, non-watchlisted people
	AlertOnUnknown bool // info alerts for unknown faces
	SaveSnapshots  bool
}

// Stats reports alert activity since startup.
type Stats struct {
	Created    uint64 `json:"created"`
	Suppressed uint64 `json:"suppressed"`
}

// Manager turns detection events into deduplicated alerts.
type Manager struct {
	cfg        Config
	detections repository.DetectionRepositoryInterface
	alerts     repository.AlertRepositoryInterface
	threats    ThreatLookup
	cooldown   Cooldown
	cameras    CameraNamer
	notifier   Notifier
	snapshots  SnapshotSaver
	logger     *zap.Logger

	created    atomic.Uint64
	suppressed atomic.Uint64

	pairMu     sync.Mutex
	suppressBy map[string]uint64

	ackMu sync.Mutex
}

// NewManager creates an alert manager. snapshots may be nil.
func NewManager(cfg Config, detections repository.DetectionRepositoryInterface, alertRepo repository.AlertRepositoryInterface,
	threats ThreatLookup, cooldown Cooldown, cameras CameraNamer, notifier Notifier, snapshots SnapshotSaver, logger *zap.Logger) *Manager {
	if cooldown == nil {
		cooldown = NewMemoryCooldown()
	}
	return &Manager{
		cfg:        cfg,
		detections: detections,
		alerts:     alertRepo,
		threats:    threats,
		cooldown:   cooldown,
		cameras:    cameras,
		notifier:   notifier,
		snapshots:  snapshots,
		logger:     logger.Named("alerts"),
		suppressBy: make(map[string]uint64),
	}
}

// HandleDetection logs the event and creates an alert when the policy allows it.
func (m *Manager) HandleDetection(ctx context.Context, ev models.DetectionEvent) {
	if ev.PersonName == "" {
		ev.PersonName = models.UnknownPerson
	}
	if err := m.detections.Create(&ev); err != nil {
		m.logger.Warn("failed to save detection", zap.Uint("camera_id", ev.CameraID), zap.String("person", ev.PersonName), zap.Error(err))
	}
	m.notifier.RecordDetection(ev)

	level, eligible := m.alertLevel(ev)
	if !eligible {
		return
	}

	key := CooldownKey(ev.CameraID, ev.PersonName)
	ok, err := m.cooldown.Acquire(ctx, key, ev.Timestamp, m.cfg.Cooldown)
	if err != nil {
		m.logger.Warn("cooldown store unavailable, creating alert", zap.String("key", key), zap.Error(err))
		ok = true
	}
	if !ok {
		m.suppressed.Add(1)
		m.pairMu.Lock()
		m.suppressBy[key]++
		m.pairMu.Unlock()
		return
	}

	alert := models.Alert{
		ID:         uuid.NewString(),
		CameraID:   ev.CameraID,
		PersonName: ev.PersonName,
		AlertLevel: level,
		Confidence: ev.Confidence,
		Timestamp:  ev.Timestamp,
		Notes:      fmt.Sprintf("Detected on %s with %.2f%% confidence", m.cameras.CameraName(ev.CameraID), ev.Confidence*100),
	}
	if err := m.alerts.Create(&alert); err != nil {
		m.logger.Error("failed to save alert", zap.String("alert_id", alert.ID), zap.Error(err))
		if err := m.cooldown.Release(ctx, key, ev.Timestamp); err != nil {
			m.logger.Warn("failed to release cooldown", zap.String("key", key), zap.Error(err))
		}
		return
	}
	if m.cfg.SaveSnapshots && m.snapshots != nil && len(ev.Frame) > 0 {
		m.attachSnapshot(ctx, &alert, ev)
	}
	m.created.Add(1)
	m.logger.Info("alert created",
		zap.String("alert_id", alert.ID),
		zap.Uint("camera_id", alert.CameraID),
		zap.String("person", alert.PersonName),
		zap.String("level", alert.AlertLevel))
	m.notifier.PublishAlert(alert)
}

// attachSnapshot saves the face crop of a stored alert and records its path.
func (m *Manager) attachSnapshot(ctx context.Context, alert *models.Alert, ev models.DetectionEvent) {
	path, err := m.snapshots.SaveSnapshot(ctx, alert.ID, alert.Timestamp, ev.Frame, ev.Box)
	if err != nil {
		m.logger.Warn("failed to save alert snapshot", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}
	if err := m.alerts.SetSnapshotPath(alert.ID, path); err != nil {
		m.logger.Warn("failed to record alert snapshot", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}
	alert.SnapshotPath = &path
}

// alertLevel returns the level of an alert for ev and whether ev may raise one.
// The level is fixed at event time.
func (m *Manager) alertLevel(ev models.DetectionEvent) (string, bool) {
	if level, ok := m.threats.IsWatchlisted(ev.PersonName); ok {
		return string(level), true
	}
	if ev.Known() {
		return models.AlertLevelInfo, m.cfg.AlertOnKnown
	}
	return models.AlertLevelInfo, m.cfg.AlertOnUnknown
}

// Acknowledge marks an alert acknowledged. Acknowledging twice is not an error.
func (m *Manager) Acknowledge(ctx context.Context, id string) (models.Alert, error) {
	m.ackMu.Lock()
	defer m.ackMu.Unlock()

	alert, changed, err := m.alerts.Acknowledge(id, time.Now())
	if err != nil {
		return models.Alert{}, fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	if changed {
		m.notifier.RecordAcknowledgement()
		m.logger.Info("alert acknowledged", zap.String("alert_id", id))
	}
	return *alert, nil
}

// List returns alerts matching filter, newest first.
func (m *Manager) List(filter repository.AlertFilter) ([]models.Alert, error) {
	return m.alerts.List(filter)
}

// Get returns one alert.
func (m *Manager) Get(id string) (models.Alert, error) {
	alert, err := m.alerts.GetByID(id)
	if err != nil {
		return models.Alert{}, err
	}
	return *alert, nil
}

// Stats returns the created and suppressed alert counts.
func (m *Manager) Stats() Stats {
	return Stats{Created: m.created.Load(), Suppressed: m.suppressed.Load()}
}

// SuppressedFor returns how many events of one camera and person were suppressed.
func (m *Manager) SuppressedFor(cameraID uint, personName string) uint64 {
	m.pairMu.Lock()
	defer m.pairMu.Unlock()
	return m.suppressBy[CooldownKey(cameraID, personName)]
}

// CooldownKey identifies the dedup window of a camera and person.
func CooldownKey(cameraID uint, personName string) string {
	return fmt.Sprintf("%d:%s", cameraID, personName)
}
