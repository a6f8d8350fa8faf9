package handlers

import (
	"net/http"
	"time"

	"cavas/internal/logger"
	"cavas/internal/pipeline"
)

// StatusProvider is the running pipeline as seen by the status endpoint.
type StatusProvider interface {
	State() pipeline.State
	Stats() pipeline.Stats
}

type StatusResponse struct {
	State   pipeline.State `json:"state"`
	Stats   pipeline.Stats `json:"stats"`
	Uptime  string         `json:"uptime"`
	Viewers int            `json:"viewers"`
}

// StatusHandler reports the pipeline state, its counters and the number of
// preview viewers.
func StatusHandler(status StatusProvider, viewers func() int, started time.Time, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			State:  status.State(),
			Stats:  status.Stats(),
			Uptime: time.Since(started).Truncate(time.Second).String(),
		}
		if viewers != nil {
			resp.Viewers = viewers()
		}
		writeJSON(w, logger, resp)
	}
}
