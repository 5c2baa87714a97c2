package realtime

import (
	"os"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/shirou/gopsutil/v4/process"
)

// Statistics is the periodic snapshot pushed to subscribers.
type Statistics struct {
	TotalCameras         int                    `json:"total_cameras"`
	ActiveCameras        int                    `json:"active_cameras"`
	TotalDetections      int64                  `json:"total_detections"`
	DetectionsToday      int64                  `json:"detections_today"`
	TotalAlerts          int64                  `json:"total_alerts"`
	UnacknowledgedAlerts int64                  `json:"unacknowledged_alerts"`
	WatchlistCount       int                    `json:"watchlist_count"`
	DetectionEngine      models.EngineHealth    `json:"detection_engine"`
	Cameras              []models.RuntimeStatus `json:"cameras"`
	System               SystemStats            `json:"system"`
	Subscribers          int                    `json:"subscribers"`
	GeneratedAt          time.Time              `json:"generated_at"`
}

// SystemStats describes the resource usage of this process.
type SystemStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Goroutines int     `json:"goroutines"`
}

type processSampler struct {
	proc *process.Process
}

func newProcessSampler() *processSampler {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return &processSampler{}
	}
	return &processSampler{proc: p}
}

// sample returns the process CPU and memory usage. Fields it cannot read stay zero.
func (s *processSampler) sample() SystemStats {
	var st SystemStats
	if s.proc == nil {
		return st
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	return st
}
