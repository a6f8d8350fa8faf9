package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cavas/internal/logger"
	"cavas/internal/models"
	"cavas/internal/pipeline"
	"cavas/internal/repository/sqlite"
	"cavas/internal/services/eventlog"
)

// ========================================
// Test Setup Helpers
// ========================================

func setupEventLog(t *testing.T, records ...models.EventRecord) *eventlog.Log {
	t.Helper()
	log := eventlog.New(filepath.Join(t.TempDir(), "logs", "detections.csv"))
	if err := log.Initialize(); err != nil {
		t.Fatalf("Failed to initialize event log: %v", err)
	}
	for _, rec := range records {
		if err := log.Append(rec); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}
	return log
}

func setupRepo(t *testing.T, records ...models.EventRecord) *sqlite.EventRepository {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewEventRepository(db, "test")
	if len(records) > 0 {
		if err := repo.InsertBatch(records); err != nil {
			t.Fatalf("Failed to seed database: %v", err)
		}
	}
	return repo
}

func sampleRecords() []models.EventRecord {
	base := time.Unix(1_700_000_000, 0)
	return []models.EventRecord{
		{Timestamp: base, Label: "person", Confidence: 0.9, Confirmed: true, Source: models.SourceSensor},
		{Timestamp: base.Add(time.Second), Label: "car", Confidence: 0.5, Confirmed: false, Source: models.SourceSimulated},
		{Timestamp: base.Add(2 * time.Second), Label: "person", Confidence: 0.7, Confirmed: true, Source: models.SourceSimulated},
	}
}

// ========================================
// Events
// ========================================

func TestRecentEventsHandler_FromRepository(t *testing.T) {
	handler := RecentEventsHandler(setupRepo(t, sampleRecords()...), nil, logger.Discard())

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=2", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp EventsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.Count != 2 || resp.Source != "sqlite" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if resp.Events[0].Label != "person" || resp.Events[1].Label != "car" {
		t.Errorf("Expected newest first, got %s, %s", resp.Events[0].Label, resp.Events[1].Label)
	}
}

func TestRecentEventsHandler_FallsBackToCSV(t *testing.T) {
	handler := RecentEventsHandler(nil, setupEventLog(t, sampleRecords()...), logger.Discard())

	req := httptest.NewRequest(http.MethodGet, "/api/events?limit=abc", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	var resp EventsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if resp.Count != 3 || resp.Source != "csv" {
		t.Fatalf("Unexpected response: %+v", resp)
	}
	if resp.Events[0].Confidence != 0.7 {
		t.Errorf("Expected newest event first, got %+v", resp.Events[0])
	}
}

func TestRecentEventsHandler_EmptyListIsArray(t *testing.T) {
	handler := RecentEventsHandler(setupRepo(t), nil, logger.Discard())

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if !strings.Contains(w.Body.String(), `"events":[]`) {
		t.Errorf("Expected empty array, got %s", w.Body.String())
	}
}

func TestRecentEventsHandler_MethodNotAllowed(t *testing.T) {
	handler := RecentEventsHandler(setupRepo(t), nil, logger.Discard())

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodPost, "/api/events", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", w.Code)
	}
}

func TestEventStatsHandler(t *testing.T) {
	tests := []struct {
		name          string
		handler       http.HandlerFunc
		wantSimulated int
	}{
		{"sqlite", EventStatsHandler(setupRepo(t, sampleRecords()...), nil, logger.Discard()), 2},
		{"csv", EventStatsHandler(nil, setupEventLog(t, sampleRecords()...), logger.Discard()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/api/events/stats", nil))

			var stats models.EventStats
			if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
				t.Fatalf("Invalid JSON: %v", err)
			}
			if stats.TotalEvents != 3 || stats.ConfirmedEvents != 2 {
				t.Errorf("Unexpected totals: %+v", stats)
			}
			if stats.ObjectCounts["person"] != 2 || stats.ObjectCounts["car"] != 1 {
				t.Errorf("Unexpected counts: %v", stats.ObjectCounts)
			}
			if stats.SimulatedEvents != tt.wantSimulated {
				t.Errorf("Expected %d simulated, got %d", tt.wantSimulated, stats.SimulatedEvents)
			}
		})
	}
}

func TestEventStatsHandler_MissingLog(t *testing.T) {
	log := eventlog.New(filepath.Join(t.TempDir(), "missing.csv"))
	handler := EventStatsHandler(nil, log, logger.Discard())

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/events/stats", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

// ========================================
// Status
// ========================================

type fixedStatus struct{}

func (fixedStatus) State() pipeline.State { return pipeline.Running }
func (fixedStatus) Stats() pipeline.Stats {
	return pipeline.Stats{Frames: 42, Alerts: 3, SensorAttached: true}
}

func TestStatusHandler(t *testing.T) {
	handler := StatusHandler(fixedStatus{}, func() int { return 2 }, time.Now().Add(-time.Minute), logger.Discard())

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if body["state"] != "RUNNING" {
		t.Errorf("Expected RUNNING, got %v", body["state"])
	}
	if body["viewers"].(float64) != 2 {
		t.Errorf("Expected 2 viewers, got %v", body["viewers"])
	}
	stats := body["stats"].(map[string]interface{})
	if stats["frames"].(float64) != 42 || stats["sensor_attached"] != true {
		t.Errorf("Unexpected stats: %v", stats)
	}
}

// ========================================
// Logs
// ========================================

func TestShowLogsHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, logger.InfoFile), []byte("hello\n"), 0644); err != nil {
		t.Fatalf("Failed to write log: %v", err)
	}

	w := httptest.NewRecorder()
	ShowLogsHandler(dir, logger.InfoFile)(w, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	if w.Code != http.StatusOK || w.Body.String() != "hello\n" {
		t.Errorf("Unexpected response %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	ShowLogsHandler(dir, logger.ErrorFile)(w, httptest.NewRequest(http.MethodGet, "/logs/error", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing log, got %d", w.Code)
	}
}

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"", 5, 5},
		{"abc", 10, 10},
		{"-1", 5, 5},
		{"0", 5, 5},
		{"12.5", 5, 5},
	}

	for _, tt := range tests {
		if result := atoiDefault(tt.input, tt.def); result != tt.expected {
			t.Errorf("atoiDefault(%q, %d) = %d, expected %d", tt.input, tt.def, result, tt.expected)
		}
	}
}
