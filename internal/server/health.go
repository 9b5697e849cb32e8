package server

import (
	"context"
	"net/http"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/cs-isia-racer/car/internal/types"
)

func sampleHost(ctx context.Context) types.HostStats {
	var stats types.HostStats
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1 = &avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemUsedPercent = &vm.UsedPercent
	}
	return stats
}

func (s *Server) healthSnapshot(ctx context.Context) types.Health {
	degraded, reason := s.health.Degraded()
	resp := types.Health{
		Status:         "ok",
		Degraded:       degraded,
		DegradedReason: reason,
		Clients:        s.registry.Count(),
		Stream:         s.streamStats(),
	}
	if degraded {
		resp.Status = "degraded"
	}
	if s.capture != nil {
		if info, ok := s.capture.Current(); ok {
			resp.Capture = types.CaptureHealth{Capturing: true, Session: info.ID}
		}
	}
	if s.host != nil {
		resp.Host = s.host(ctx)
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.healthSnapshot(r.Context()))
}
