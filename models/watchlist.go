package models

import (
	"fmt"
	"strings"
)

// ThreatLevel classifies a watchlisted identity.
type ThreatLevel string

const (
	ThreatLow    ThreatLevel = "low"
	ThreatMedium ThreatLevel = "medium"
	ThreatHigh   ThreatLevel = "high"
)

// AlertLevelInfo is the level used for alerts on identities that are not watchlisted.
const AlertLevelInfo = "info"

// ParseThreatLevel validates a threat level string.
func ParseThreatLevel(s string) (ThreatLevel, error) {
	switch level := ThreatLevel(strings.ToLower(strings.TrimSpace(s))); level {
	case ThreatLow, ThreatMedium, ThreatHigh:
		return level, nil
	default:
		return "", fmt.Errorf("%w: unknown threat level %q", ErrInvalidConfig, s)
	}
}

// WatchlistEntry flags a person with a threat level.
// It corresponds to the 'watchlist' table.
type WatchlistEntry struct {
	ID          uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	PersonName  string      `gorm:"uniqueIndex;not null;column:person_name" json:"person_name"`
	ThreatLevel ThreatLevel `gorm:"not null;default:'medium';column:threat_level" json:"threat_level"`
	Description string      `gorm:"column:description" json:"description"`
	AddedAt     int64       `gorm:"not null;column:added_at" json:"added_at"` // Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (WatchlistEntry) TableName() string {
	return "watchlist"
}
