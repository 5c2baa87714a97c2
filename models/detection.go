package models

import "time"

// UnknownPerson is the person name of a face that matched no known identity.
const UnknownPerson = "unknown"

// DetectionEvent is a single face observed on one frame.
// It corresponds to the 'detections' table.
type DetectionEvent struct {
	ID         uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	CameraID   uint        `gorm:"not null;index" json:"camera_id"`
	PersonName string      `gorm:"not null;index;column:person_name" json:"person_name"`
	Confidence float64     `gorm:"not null" json:"confidence"`
	Timestamp  time.Time   `gorm:"not null;index" json:"timestamp"`
	Box        BoundingBox `gorm:"embedded;embeddedPrefix:box_" json:"box"`

	Frame []byte `gorm:"-" json:"-"` // encoded source frame, used for alert snapshots
}

// TableName explicitly sets the table name for GORM.
func (DetectionEvent) TableName() string {
	return "detections"
}

// Known reports whether the event resolved to an enrolled identity.
func (d DetectionEvent) Known() bool {
	return d.PersonName != "" && d.PersonName != UnknownPerson
}
