package sqlite

import (
	"fmt"
	"time"

	"cavas/internal/models"
)

// EventRepository implements repository.EventRepository for SQLite.
// It is also used as a pipeline event sink mirroring the CSV log.
type EventRepository struct {
	db        *DB
	sessionID string
}

// NewEventRepository creates a new SQLite event repository. sessionID tags
// every inserted row with the run that produced it.
func NewEventRepository(db *DB, sessionID string) *EventRepository {
	return &EventRepository{db: db, sessionID: sessionID}
}

const insertEvent = `
	INSERT INTO events (session_id, timestamp_us, detected_object, confidence,
		sensor_confirmed, confirmation_source, x1, y1, x2, y2)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Name identifies the repository when used as an event sink.
func (r *EventRepository) Name() string {
	return "sqlite"
}

// Append stores rec; it satisfies the pipeline's event sink interface.
func (r *EventRepository) Append(rec models.EventRecord) error {
	_, err := r.Insert(&rec)
	return err
}

// Insert adds a new event record to the database.
func (r *EventRepository) Insert(rec *models.EventRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(insertEvent, r.args(rec)...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	return result.LastInsertId()
}

// InsertBatch adds multiple events in a single transaction.
func (r *EventRepository) InsertBatch(records []models.EventRecord) error {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertEvent)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		if _, err := stmt.Exec(r.args(&records[i])...); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	return tx.Commit()
}

// InsertNew adds the records that are not stored yet, in one transaction, and
// returns how many were inserted. A record is already stored when a row with
// the same microsecond timestamp and object exists.
func (r *EventRepository) InsertNew(records []models.EventRecord) (int, error) {
	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.Prepare(`SELECT EXISTS(SELECT 1 FROM events WHERE timestamp_us = ? AND detected_object = ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer exists.Close()

	insert, err := tx.Prepare(insertEvent)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer insert.Close()

	inserted := 0
	for i := range records {
		var found bool
		if err := exists.QueryRow(records[i].Timestamp.UnixMicro(), records[i].Label).Scan(&found); err != nil {
			return 0, fmt.Errorf("failed to look up event: %w", err)
		}
		if found {
			continue
		}
		if _, err := insert.Exec(r.args(&records[i])...); err != nil {
			return 0, fmt.Errorf("failed to insert event: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *EventRepository) args(rec *models.EventRecord) []interface{} {
	return []interface{}{
		r.sessionID, rec.Timestamp.UnixMicro(), rec.Label, rec.Confidence,
		rec.Confirmed, string(rec.Source), rec.Box.X1, rec.Box.Y1, rec.Box.X2, rec.Box.Y2,
	}
}

// GetRecent returns up to limit events, newest first.
func (r *EventRepository) GetRecent(limit int) ([]models.EventRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT timestamp_us, detected_object, confidence, sensor_confirmed,
			confirmation_source, x1, y1, x2, y2
		FROM events ORDER BY timestamp_us DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []models.EventRecord
	for rows.Next() {
		var rec models.EventRecord
		var micros int64
		var source string
		if err := rows.Scan(&micros, &rec.Label, &rec.Confidence, &rec.Confirmed, &source,
			&rec.Box.X1, &rec.Box.Y1, &rec.Box.X2, &rec.Box.Y2); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Timestamp = time.UnixMicro(micros)
		rec.Source = models.ConfirmationSource(source)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetObjectCounts returns the number of events per detected object.
func (r *EventRepository) GetObjectCounts() (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT detected_object, COUNT(*) FROM events GROUP BY detected_object`)
	if err != nil {
		return nil, fmt.Errorf("failed to query object counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var obj string
		var count int
		if err := rows.Scan(&obj, &count); err != nil {
			return nil, fmt.Errorf("failed to scan object count: %w", err)
		}
		counts[obj] = count
	}

	return counts, rows.Err()
}

// GetStats returns aggregate counts over all events.
func (r *EventRepository) GetStats() (*models.EventStats, error) {
	counts, err := r.GetObjectCounts()
	if err != nil {
		return nil, err
	}

	r.db.RLock()
	defer r.db.RUnlock()

	stats := &models.EventStats{ObjectCounts: counts}
	err = r.db.Conn().QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN sensor_confirmed THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN confirmation_source = 'simulated' THEN 1 ELSE 0 END), 0)
		FROM events
	`).Scan(&stats.TotalEvents, &stats.ConfirmedEvents, &stats.SimulatedEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return stats, nil
}

// Count returns the total number of stored events.
func (r *EventRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
