package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/camden-git/facesentry/models"
	"gorm.io/gorm"
)

const defaultAlertLimit = 50

// AlertRepository handles database operations for Alert entities
type AlertRepository struct {
	DB *gorm.DB
}

var _ AlertRepositoryInterface = (*AlertRepository)(nil)

// NewAlertRepository creates a new instance of AlertRepository
func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{DB: db}
}

// Create stores a new alert
func (r *AlertRepository) Create(alert *models.Alert) error {
	if err := r.DB.Create(alert).Error; err != nil {
		return fmt.Errorf("failed to create alert %s: %w", alert.ID, err)
	}
	return nil
}

// SetSnapshotPath records where the snapshot of an alert is served from
func (r *AlertRepository) SetSnapshotPath(id, path string) error {
	result := r.DB.Model(&models.Alert{}).Where("id = ?", id).Update("snapshot_path", path)
	if result.Error != nil {
		return fmt.Errorf("failed to set snapshot of alert %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// GetByID retrieves an alert by its ID
func (r *AlertRepository) GetByID(id string) (*models.Alert, error) {
	var alert models.Alert
	err := r.DB.Where("id = ?", id).First(&alert).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return &alert, nil
}

// List returns the most recent alerts matching the filter
func (r *AlertRepository) List(filter AlertFilter) ([]models.Alert, error) {
	query := r.DB.Model(&models.Alert{})
	if filter.Acknowledged != nil {
		query = query.Where("acknowledged = ?", *filter.Acknowledged)
	}
	if filter.CameraID != nil {
		query = query.Where("camera_id = ?", *filter.CameraID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAlertLimit
	}

	var alerts []models.Alert
	if err := query.Order("timestamp DESC").Limit(limit).Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge marks an alert acknowledged. Acknowledging twice is not an error;
// the second call reports changed=false.
func (r *AlertRepository) Acknowledge(id string, at time.Time) (*models.Alert, bool, error) {
	var alert models.Alert
	changed := false
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&alert).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
			}
			return fmt.Errorf("failed to get alert %s: %w", id, err)
		}
		if alert.Acknowledged {
			return nil
		}
		result := tx.Model(&models.Alert{}).
			Where("id = ? AND acknowledged = ?", id, false).
			Updates(map[string]interface{}{"acknowledged": true, "acknowledged_at": at})
		if result.Error != nil {
			return fmt.Errorf("failed to acknowledge alert %s: %w", id, result.Error)
		}
		changed = result.RowsAffected > 0
		alert.Acknowledged = true
		if changed {
			alert.AcknowledgedAt = &at
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &alert, changed, nil
}
