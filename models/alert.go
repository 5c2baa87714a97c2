package models

import "time"

// Alert is a user-facing notification created from a detection under the dedup policy.
// It corresponds to the 'alerts' table.
type Alert struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	CameraID       uint       `gorm:"not null;index" json:"camera_id"`
	PersonName     string     `gorm:"not null;index;column:person_name" json:"person_name"`
	AlertLevel     string     `gorm:"not null;column:alert_level" json:"alert_level"`
	Confidence     float64    `gorm:"not null" json:"confidence"`
	Timestamp      time.Time  `gorm:"not null;index" json:"timestamp"`
	Acknowledged   bool       `gorm:"not null;default:false;index" json:"acknowledged"`
	AcknowledgedAt *time.Time `gorm:"column:acknowledged_at" json:"acknowledged_at,omitempty"`
	Notes          string     `gorm:"column:notes" json:"notes"`
	SnapshotPath   *string    `gorm:"column:snapshot_path" json:"snapshot_path,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Alert) TableName() string {
	return "alerts"
}
