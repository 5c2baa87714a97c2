package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camden-git/facesentry/models"
	"gorm.io/gorm"
)

// WatchlistRepository handles database operations for WatchlistEntry entities
type WatchlistRepository struct {
	DB *gorm.DB
}

var _ WatchlistRepositoryInterface = (*WatchlistRepository)(nil)

// NewWatchlistRepository creates a new instance of WatchlistRepository
func NewWatchlistRepository(db *gorm.DB) *WatchlistRepository {
	return &WatchlistRepository{DB: db}
}

// ListAll retrieves every watchlist entry ordered by person name
func (r *WatchlistRepository) ListAll() ([]models.WatchlistEntry, error) {
	var entries []models.WatchlistEntry
	if err := r.DB.Order("person_name ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list watchlist: %w", err)
	}
	return entries, nil
}

// Person names match case-insensitively, so "Bob" and "bob" share one row.
func byName(db *gorm.DB, personName string) *gorm.DB {
	return db.Where("LOWER(person_name) = ?", strings.ToLower(strings.TrimSpace(personName)))
}

// GetByName retrieves the watchlist entry of one person
func (r *WatchlistRepository) GetByName(personName string) (*models.WatchlistEntry, error) {
	var entry models.WatchlistEntry
	err := byName(r.DB, personName).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("watchlist entry %s: %w", personName, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get watchlist entry %s: %w", personName, err)
	}
	return &entry, nil
}

// Upsert adds a person to the watchlist or overwrites the existing entry,
// including the stored spelling of the name
func (r *WatchlistRepository) Upsert(entry *models.WatchlistEntry) error {
	if entry.AddedAt == 0 {
		entry.AddedAt = time.Now().Unix()
	}
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var existing models.WatchlistEntry
		err := byName(tx, entry.PersonName).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry.ID = 0
			return tx.Create(entry).Error
		}
		if err != nil {
			return err
		}
		entry.ID = existing.ID
		return tx.Model(&existing).Updates(map[string]interface{}{
			"person_name":  entry.PersonName,
			"threat_level": entry.ThreatLevel,
			"description":  entry.Description,
			"added_at":     entry.AddedAt,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to upsert watchlist entry %s: %w", entry.PersonName, err)
	}
	return nil
}

// Delete removes a person from the watchlist
func (r *WatchlistRepository) Delete(personName string) error {
	result := byName(r.DB, personName).Delete(&models.WatchlistEntry{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete watchlist entry %s: %w", personName, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("watchlist entry %s: %w", personName, models.ErrNotFound)
	}
	return nil
}
