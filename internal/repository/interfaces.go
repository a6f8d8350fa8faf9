package repository

import "cavas/internal/models"

// EventRepository defines the interface for event record storage.
type EventRepository interface {
	// Create operations
	Insert(rec *models.EventRecord) (int64, error)
	InsertBatch(records []models.EventRecord) error

	// Read operations
	GetRecent(limit int) ([]models.EventRecord, error)
	GetObjectCounts() (map[string]int, error)
	GetStats() (*models.EventStats, error)
	Count() (int, error)
}
