package api

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

type healthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	System    *systemStats      `json:"system,omitempty"`
}

type systemStats struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	MemoryUsedMB  uint64  `json:"memoryUsedMb"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	services := map[string]string{
		"database": "connected",
		"lock":     "connected",
	}
	healthy := true

	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("Health check: database unreachable", zap.Error(err))
		services["database"] = "unavailable"
		healthy = false
	}
	if err := s.locker.Ping(ctx); err != nil {
		s.logger.Error("Health check: lock service unreachable", zap.Error(err))
		services["lock"] = "unavailable"
		healthy = false
	}

	status := healthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Services:  services,
		System:    collectSystemStats(),
	}

	if !healthy {
		status.Status = "unhealthy"
		s.writeJSON(w, http.StatusServiceUnavailable, apiResponse{Success: false, Data: status, Error: "Service unavailable"})
		return
	}
	s.writeData(w, http.StatusOK, status)
}

// collectSystemStats is best-effort: a metrics failure never fails the
// health check.
func collectSystemStats() *systemStats {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	stats := &systemStats{
		MemoryPercent: vm.UsedPercent,
		MemoryUsedMB:  vm.Used / (1 << 20),
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	return stats
}
