package repository

import (
	"fmt"
	"time"

	"github.com/camden-git/facesentry/models"
	"gorm.io/gorm"
)

// FaceEncodingRepository handles database operations for enrolled face encodings
type FaceEncodingRepository struct {
	DB *gorm.DB
}

var _ FaceEncodingRepositoryInterface = (*FaceEncodingRepository)(nil)

// NewFaceEncodingRepository creates a new instance of FaceEncodingRepository
func NewFaceEncodingRepository(db *gorm.DB) *FaceEncodingRepository {
	return &FaceEncodingRepository{DB: db}
}

// ListAll returns every encoding in enrollment order
func (r *FaceEncodingRepository) ListAll() ([]models.FaceEncoding, error) {
	var encodings []models.FaceEncoding
	if err := r.DB.Order("enrolled_at ASC").Order("id ASC").Find(&encodings).Error; err != nil {
		return nil, fmt.Errorf("failed to list face encodings: %w", err)
	}
	return encodings, nil
}

// ReplaceAll swaps the stored encodings for a freshly computed set in one transaction
func (r *FaceEncodingRepository) ReplaceAll(encodings []models.FaceEncoding) error {
	now := time.Now().Unix()
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.FaceEncoding{}).Error; err != nil {
			return fmt.Errorf("failed to clear face encodings: %w", err)
		}
		if len(encodings) == 0 {
			return nil
		}
		for i := range encodings {
			encodings[i].ID = 0
			if encodings[i].CreatedAt == 0 {
				encodings[i].CreatedAt = now
			}
		}
		if err := tx.CreateInBatches(encodings, 100).Error; err != nil {
			return fmt.Errorf("failed to store %d face encodings: %w", len(encodings), err)
		}
		return nil
	})
}
