package routes

import (
	"net/http"
	"time"

	"cavas/internal/handlers"
	"cavas/internal/logger"
	"cavas/internal/repository"
	"cavas/internal/services/eventlog"
	"cavas/internal/services/websocket"
)

// Services are the components exposed over HTTP. Repo and Hub may be nil.
type Services struct {
	Status  handlers.StatusProvider
	Repo    repository.EventRepository
	Log     *eventlog.Log
	Hub     *websocket.HubService
	Logger  *logger.Logger
	Started time.Time
}

// SetupRoutes registers the API, preview and log endpoints.
func SetupRoutes(s Services) http.Handler {
	mux := http.NewServeMux()

	var viewers func() int
	if s.Hub != nil {
		viewers = s.Hub.GetClientCount
		mux.HandleFunc("/api/view", handlers.ViewWebsocketHandler(s.Hub, s.Logger))
	}

	// API endpoints
	mux.HandleFunc("/api/status", handlers.StatusHandler(s.Status, viewers, s.Started, s.Logger))
	mux.HandleFunc("/api/events", handlers.RecentEventsHandler(s.Repo, s.Log, s.Logger))
	mux.HandleFunc("/api/events/stats", handlers.EventStatsHandler(s.Repo, s.Log, s.Logger))

	// Log endpoints
	for _, level := range []struct{ path, file string }{
		{"/logs/info", logger.InfoFile},
		{"/logs/warning", logger.WarningFile},
		{"/logs/error", logger.ErrorFile},
	} {
		mux.HandleFunc(level.path, handlers.ShowLogsHandler(s.Logger.Dir(), level.file))
		mux.HandleFunc(level.path+"/clear", handlers.ClearLogsHandler(s.Logger, level.file))
	}

	return mux
}
