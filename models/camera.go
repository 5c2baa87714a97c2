package models

import "time"

// DesiredState is the operator-requested state of a camera.
type DesiredState string

const (
	DesiredStopped DesiredState = "stopped"
	DesiredRunning DesiredState = "running"
)

// Camera represents a configured stream source.
// It corresponds to the 'cameras' table.
type Camera struct {
	ID           uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string       `gorm:"uniqueIndex;not null" json:"name"`
	StreamURL    string       `gorm:"not null;column:stream_url" json:"stream_url"`
	Location     *string      `gorm:"column:location" json:"location,omitempty"`
	DesiredState DesiredState `gorm:"not null;default:'stopped';column:desired_state" json:"desired_state"`
	CreatedAt    int64        `gorm:"not null" json:"created_at"` // Unix timestamp
	UpdatedAt    int64        `gorm:"not null" json:"updated_at"` // Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (Camera) TableName() string {
	return "cameras"
}

// SourceState is the connection state of a live frame source.
type SourceState string

const (
	SourceConnecting   SourceState = "connecting"
	SourceStreaming    SourceState = "streaming"
	SourceReconnecting SourceState = "reconnecting"
	SourceStopped      SourceState = "stopped"
)

// RuntimeStatus is the ephemeral status of a running camera. It is never persisted.
type RuntimeStatus struct {
	CameraID            uint        `json:"camera_id"`
	State               SourceState `json:"state"`
	IsRunning           bool        `json:"is_running"`
	FPS                 float64     `json:"fps"`
	LastFrameAt         *time.Time  `json:"last_frame_at,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	FramesCaptured      uint64      `json:"frames_captured"`
	QueueSize           int         `json:"queue_size"`
	FramesEvicted       uint64      `json:"frames_evicted"`
	LastError           string      `json:"last_error,omitempty"`
}

// CameraView pairs a camera with its runtime status, if it has a live source.
type CameraView struct {
	Camera
	Status *RuntimeStatus `json:"status,omitempty"`
}
