package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/foresight/internal/database"
)

// SystemHandlers serves the status and health endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   []*database.DB
}

// NewSystemHandlers creates system handlers over the given databases
func NewSystemHandlers(log zerolog.Logger, dataDir string, databases ...*database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
	}
}

// HandleStatus handles GET /
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service":        "foresight",
		"status":         "running",
		"uptime_seconds": int64(time.Since(h.startupTime).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// HandleHealth handles GET /health.
// Reports database reachability and host resource usage. Degraded state
// still returns 200 so the process is not restarted for a transient issue;
// only unreachable databases flip the status.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := true

	dbStatus := make(map[string]string, len(h.databases))
	for _, db := range h.databases {
		if err := db.Conn().Ping(); err != nil {
			dbStatus[db.Name()] = "unreachable: " + err.Error()
			healthy = false
		} else {
			dbStatus[db.Name()] = "ok"
		}
	}

	system := map[string]interface{}{}
	if memStat, err := mem.VirtualMemory(); err == nil {
		system["memory_used_percent"] = memStat.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Failed to read memory statistics")
	}
	if diskStat, err := disk.Usage(h.dataDir); err == nil {
		system["disk_used_percent"] = diskStat.UsedPercent
		system["disk_free_bytes"] = diskStat.Free
	} else {
		h.log.Warn().Err(err).Msg("Failed to read disk statistics")
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    status,
		"databases": dbStatus,
		"system":    system,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
