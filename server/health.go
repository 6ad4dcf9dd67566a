package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/process"
)

type processStats struct {
	PID        int     `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

type healthPayload struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Connections   int           `json:"connections"`
	Rooms         int           `json:"rooms"`
	Goroutines    int           `json:"goroutines"`
	Process       *processStats `json:"process,omitempty"`
}

// handleHealth is the synchronous liveness surface. Process stats are best
// effort; their absence does not make the coordinator unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.coordinator.Stats()
	payload := healthPayload{
		Status:        "ok",
		UptimeSeconds: int64(stats.Uptime.Seconds()),
		Connections:   stats.Connections,
		Rooms:         stats.Rooms,
		Goroutines:    runtime.NumGoroutine(),
	}
	payload.Process = selfStats()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// selfStats collects memory and CPU usage of the coordinator process.
func selfStats() *processStats {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil
	}
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return nil
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return nil
	}
	return &processStats{
		PID:        os.Getpid(),
		RSSBytes:   memInfo.RSS,
		CPUPercent: cpuPercent,
	}
}
