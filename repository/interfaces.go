package repository

import (
	"time"

	"github.com/camden-git/facesentry/models"
)

// CameraRepositoryInterface defines the methods for camera data operations
type CameraRepositoryInterface interface {
	Create(camera *models.Camera) error
	GetByID(id uint) (*models.Camera, error)
	ListAll() ([]models.Camera, error)
	Update(camera *models.Camera) error
	UpdateDesiredState(id uint, state models.DesiredState) error
	Delete(id uint) error
}

// DetectionFilter narrows a detection listing. Zero values mean no filter.
type DetectionFilter struct {
	CameraID   *uint
	PersonName string
	Since      *time.Time
	Limit      int
}

// DetectionRepositoryInterface defines the methods for detection log operations
type DetectionRepositoryInterface interface {
	Create(event *models.DetectionEvent) error
	List(filter DetectionFilter) ([]models.DetectionEvent, error)
}

// AlertFilter narrows an alert listing. Zero values mean no filter.
type AlertFilter struct {
	Acknowledged *bool
	CameraID     *uint
	Limit        int
}

// AlertRepositoryInterface defines the methods for alert data operations
type AlertRepositoryInterface interface {
	Create(alert *models.Alert) error
	GetByID(id string) (*models.Alert, error)
	List(filter AlertFilter) ([]models.Alert, error)
	SetSnapshotPath(id, path string) error
	// Acknowledge marks the alert acknowledged and reports whether this call changed it.
	Acknowledge(id string, at time.Time) (*models.Alert, bool, error)
}

// WatchlistRepositoryInterface defines the methods for watchlist data operations
type WatchlistRepositoryInterface interface {
	ListAll() ([]models.WatchlistEntry, error)
	GetByName(personName string) (*models.WatchlistEntry, error)
	Upsert(entry *models.WatchlistEntry) error
	Delete(personName string) error
}

// FaceEncodingRepositoryInterface defines the methods for enrolled encoding operations
type FaceEncodingRepositoryInterface interface {
	ListAll() ([]models.FaceEncoding, error)
	ReplaceAll(encodings []models.FaceEncoding) error
}
