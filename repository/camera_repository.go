package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/camden-git/facesentry/models"
	"gorm.io/gorm"
)

// CameraRepository handles database operations for Camera entities
type CameraRepository struct {
	DB *gorm.DB
}

var _ CameraRepositoryInterface = (*CameraRepository)(nil)

// NewCameraRepository creates a new instance of CameraRepository
func NewCameraRepository(db *gorm.DB) *CameraRepository {
	return &CameraRepository{DB: db}
}

// Create creates a new camera record and fills in its ID
func (r *CameraRepository) Create(camera *models.Camera) error {
	now := time.Now().Unix()
	if camera.CreatedAt == 0 {
		camera.CreatedAt = now
	}
	camera.UpdatedAt = now
	if camera.DesiredState == "" {
		camera.DesiredState = models.DesiredStopped
	}

	if err := r.DB.Create(camera).Error; err != nil {
		return fmt.Errorf("failed to create camera %s: %w", camera.Name, err)
	}
	return nil
}

// GetByID retrieves a camera by its ID
func (r *CameraRepository) GetByID(id uint) (*models.Camera, error) {
	var camera models.Camera
	err := r.DB.First(&camera, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("camera %d: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get camera by ID %d: %w", id, err)
	}
	return &camera, nil
}

// ListAll retrieves all cameras ordered by ID
func (r *CameraRepository) ListAll() ([]models.Camera, error) {
	var cameras []models.Camera
	if err := r.DB.Order("id ASC").Find(&cameras).Error; err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cameras, nil
}

// Update saves name, stream url and location of a camera
func (r *CameraRepository) Update(camera *models.Camera) error {
	camera.UpdatedAt = time.Now().Unix()
	result := r.DB.Model(&models.Camera{ID: camera.ID}).Updates(map[string]interface{}{
		"name":       camera.Name,
		"stream_url": camera.StreamURL,
		"location":   camera.Location,
		"updated_at": camera.UpdatedAt,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update camera ID %d: %w", camera.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("camera %d: %w", camera.ID, models.ErrNotFound)
	}
	return nil
}

// UpdateDesiredState records whether the camera should be running
func (r *CameraRepository) UpdateDesiredState(id uint, state models.DesiredState) error {
	result := r.DB.Model(&models.Camera{ID: id}).Updates(map[string]interface{}{
		"desired_state": state,
		"updated_at":    time.Now().Unix(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update state of camera ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("camera %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// Delete removes a camera by its ID
func (r *CameraRepository) Delete(id uint) error {
	result := r.DB.Delete(&models.Camera{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete camera ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("camera %d: %w", id, models.ErrNotFound)
	}
	return nil
}
