package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"cavas/internal/logger"
	"cavas/internal/models"
	"cavas/internal/repository"
	"cavas/internal/services/eventlog"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// EventsResponse is the body of GET /api/events.
type EventsResponse struct {
	Events []models.EventRecord `json:"events"`
	Count  int                  `json:"count"`
	Source string               `json:"source"`
}

// RecentEventsHandler returns the newest events first. Without a repository
// the CSV event log is read instead.
func RecentEventsHandler(repo repository.EventRepository, log *eventlog.Log, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := atoiDefault(r.URL.Query().Get("limit"), defaultLimit)
		if limit > maxLimit {
			limit = maxLimit
		}

		var (
			events []models.EventRecord
			source string
			err    error
		)
		if repo != nil {
			source = "sqlite"
			events, err = repo.GetRecent(limit)
		} else {
			source = "csv"
			events, err = recentFromLog(log, limit)
		}
		if err != nil {
			logger.Error("Failed to load events: %v", err)
			http.Error(w, "Failed to load events", http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []models.EventRecord{}
		}

		writeJSON(w, logger, EventsResponse{Events: events, Count: len(events), Source: source})
	}
}

// EventStatsHandler returns per-class counts and confirmation totals.
func EventStatsHandler(repo repository.EventRepository, log *eventlog.Log, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var (
			stats *models.EventStats
			err   error
		)
		if repo != nil {
			stats, err = repo.GetStats()
		} else {
			var records []models.EventRecord
			_, records, err = log.ReadAll()
			stats = models.Summarize(records)
		}
		if err != nil {
			logger.Error("Failed to compute event stats: %v", err)
			http.Error(w, "Failed to compute event stats", http.StatusInternalServerError)
			return
		}

		writeJSON(w, logger, stats)
	}
}

func recentFromLog(log *eventlog.Log, limit int) ([]models.EventRecord, error) {
	_, records, err := log.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	recent := make([]models.EventRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		recent = append(recent, records[i])
	}
	return recent, nil
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault parses a positive integer or returns def.
func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
