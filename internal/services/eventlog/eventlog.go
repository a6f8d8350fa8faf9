package eventlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"cavas/internal/models"
)

// Header names the four columns of the log file.
var Header = []string{"timestamp", "detected_object", "confidence", "sensor_confirmed"}

// Log is an append-only CSV record of evaluated detections. Every Append
// opens, writes, syncs and closes the file, so nothing is buffered between
// calls. Appends are serialized, and a failed Append leaves the file as it
// was before the call.
type Log struct {
	path string
	mu   sync.Mutex
}

// New returns a Log backed by the file at path. Call Initialize before use.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

// Initialize creates the file with its header if it does not exist yet.
// Existing files are left untouched.
func (l *Log) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create event log directory: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create event log: %w", err)
	}

	if err := writeRow(f, Header); err != nil {
		f.Close()
		return fmt.Errorf("write event log header: %w", err)
	}
	return f.Close()
}

// Append writes one row for rec and makes it durable before returning.
func (l *Log) Append(rec models.EventRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}

	row := []string{rec.EpochSeconds(), rec.Label, rec.ConfidenceText(), rec.ConfirmedText()}
	if err := appendRow(f, row); err != nil {
		f.Close()
		return fmt.Errorf("append event: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close event log: %w", err)
	}
	return nil
}

// ReadAll returns the header and every data row in file order.
// Rows read back carry no confirmation source or box. Only rows complete when
// the call started are returned; parsing does not block Append.
func (l *Log) ReadAll() ([]string, []models.EventRecord, error) {
	f, size, err := l.openSnapshot()
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(io.LimitReader(f, size))
	r.FieldsPerRecord = len(Header)

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	var records []models.EventRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return header, records, fmt.Errorf("read row %d: %w", line, err)
		}
		rec, err := ParseRow(row)
		if err != nil {
			return header, records, fmt.Errorf("row %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return header, records, nil
}

// openSnapshot opens the log and returns its size under the append lock.
// Appends only extend the file, so the first size bytes stay stable.
func (l *Log) openSnapshot() (*os.File, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, 0, fmt.Errorf("open event log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat event log: %w", err)
	}
	return f, info.Size(), nil
}

// ParseRow converts one data row back into a record.
func ParseRow(row []string) (models.EventRecord, error) {
	if len(row) != len(Header) {
		return models.EventRecord{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(row))
	}
	seconds, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return models.EventRecord{}, fmt.Errorf("invalid timestamp %q: %w", row[0], err)
	}
	confidence, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return models.EventRecord{}, fmt.Errorf("invalid confidence %q: %w", row[2], err)
	}
	confirmed, err := strconv.ParseBool(strings.ToLower(row[3]))
	if err != nil {
		return models.EventRecord{}, fmt.Errorf("invalid confirmation %q: %w", row[3], err)
	}
	return models.EventRecord{
		Timestamp:  time.UnixMicro(int64(math.Round(seconds * 1e6))),
		Label:      row[1],
		Confidence: confidence,
		Confirmed:  confirmed,
	}, nil
}

type rowFile interface {
	io.Writer
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Sync() error
}

// appendRow writes row at the end of f. On failure any partially written
// bytes are cut off again.
func appendRow(f rowFile, row []string) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := writeRow(f, row); err != nil {
		if terr := f.Truncate(info.Size()); terr != nil {
			return errors.Join(err, fmt.Errorf("roll back partial row: %w", terr))
		}
		return err
	}
	return nil
}

// writeRow writes a single CSV row and syncs it to disk.
func writeRow(f rowFile, row []string) error {
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}
