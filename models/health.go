package models

// EngineHealth describes the detection engine for status reporting.
type EngineHealth struct {
	Running          bool   `json:"is_running"`
	Workers          int    `json:"num_workers"`
	ActiveWorkers    int    `json:"active_workers"`
	KnownPeople      int    `json:"known_people"`
	TotalEncodings   int    `json:"total_encodings"`
	WatchlistCount   int    `json:"watchlist_count"`
	FramesProcessed  uint64 `json:"frames_processed"`
	FacesDetected    uint64 `json:"detection_count"`
	FrameErrors      uint64 `json:"frame_errors"`
	AlertsCreated    uint64 `json:"alert_count"`
	AlertsSuppressed uint64 `json:"alerts_suppressed"`
	ReloadedAt       int64  `json:"reloaded_at,omitempty"` // Unix timestamp of the active encoding snapshot
}
