package repository

import (
	"fmt"

	"github.com/camden-git/facesentry/models"
	"gorm.io/gorm"
)

const defaultDetectionLimit = 100

// DetectionRepository handles database operations for the detection log
type DetectionRepository struct {
	DB *gorm.DB
}

var _ DetectionRepositoryInterface = (*DetectionRepository)(nil)

// NewDetectionRepository creates a new instance of DetectionRepository
func NewDetectionRepository(db *gorm.DB) *DetectionRepository {
	return &DetectionRepository{DB: db}
}

// Create stores one detection event
func (r *DetectionRepository) Create(event *models.DetectionEvent) error {
	if err := r.DB.Create(event).Error; err != nil {
		return fmt.Errorf("failed to save detection for camera %d: %w", event.CameraID, err)
	}
	return nil
}

// List returns the most recent detections matching the filter
func (r *DetectionRepository) List(filter DetectionFilter) ([]models.DetectionEvent, error) {
	query := r.DB.Model(&models.DetectionEvent{})
	if filter.CameraID != nil {
		query = query.Where("camera_id = ?", *filter.CameraID)
	}
	if filter.PersonName != "" {
		query = query.Where("person_name = ?", filter.PersonName)
	}
	if filter.Since != nil {
		query = query.Where("timestamp >= ?", *filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultDetectionLimit
	}

	var events []models.DetectionEvent
	if err := query.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	return events, nil
}
