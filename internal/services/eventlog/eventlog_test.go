package eventlog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"cavas/internal/models"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "logs", "detections.csv"))
}

func record(label string, confidence float64, confirmed bool, at time.Time) models.EventRecord {
	return models.EventRecord{
		Timestamp:  at,
		Label:      label,
		Confidence: confidence,
		Confirmed:  confirmed,
		Source:     models.SourceSensor,
	}
}

func TestInitialize_CreatesHeaderOnce(t *testing.T) {
	l := newTestLog(t)

	if err := l.Initialize(); err != nil {
		t.Fatalf("first Initialize failed: %v", err)
	}
	if err := l.Initialize(); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	if got := string(data); got != "timestamp,detected_object,confidence,sensor_confirmed\n" {
		t.Errorf("Unexpected file content: %q", got)
	}
}

func TestAppend_ReadBackInOrder(t *testing.T) {
	l := newTestLog(t)
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	base := time.Unix(1_712_345_678, 123456000)
	want := []models.EventRecord{
		record("person", 0.91, true, base),
		record("car", 0.456, false, base.Add(time.Millisecond)),
		record("dog", 0.5, true, base.Add(2*time.Millisecond)),
	}
	for _, rec := range want {
		if err := l.Append(rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	header, rows, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !reflect.DeepEqual(header, Header) {
		t.Errorf("Header changed: %v", header)
	}
	if len(rows) != len(want) {
		t.Fatalf("Expected %d rows, got %d", len(want), len(rows))
	}
	for i, row := range rows {
		if row.Label != want[i].Label {
			t.Errorf("row %d: label %q, expected %q", i, row.Label, want[i].Label)
		}
		if row.Confirmed != want[i].Confirmed {
			t.Errorf("row %d: confirmed %v, expected %v", i, row.Confirmed, want[i].Confirmed)
		}
		if !row.Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("row %d: timestamp %v, expected %v", i, row.Timestamp, want[i].Timestamp)
		}
	}
}

func TestAppend_RowFormat(t *testing.T) {
	l := newTestLog(t)
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	at := time.Unix(1_700_000_000, 250000000)
	if err := l.Append(record("car", 0.456, false, at)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := l.Append(record("person", 0.9, true, at)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	data, _ := os.ReadFile(l.Path())
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"timestamp,detected_object,confidence,sensor_confirmed",
		"1700000000.250000,car,0.46,False",
		"1700000000.250000,person,0.90,True",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("Unexpected lines:\n%v\nexpected:\n%v", lines, want)
	}
}

func TestInitialize_DoesNotTruncateExistingRows(t *testing.T) {
	l := newTestLog(t)
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := l.Append(record("cat", 0.7, i%2 == 0, time.Unix(int64(1000+i), 0))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	before, _ := os.ReadFile(l.Path())

	// Simulate a restart.
	restarted := New(l.Path())
	if err := restarted.Initialize(); err != nil {
		t.Fatalf("Initialize on populated log failed: %v", err)
	}

	after, _ := os.ReadFile(l.Path())
	if string(before) != string(after) {
		t.Errorf("Initialize modified existing log:\nbefore %q\nafter  %q", before, after)
	}
}

func TestAppend_WithoutInitializeFails(t *testing.T) {
	l := newTestLog(t)
	if err := l.Append(record("person", 0.9, true, time.Now())); err == nil {
		t.Error("Expected error when log file does not exist")
	}
}

func TestAppend_ConcurrentProducersDoNotInterleave(t *testing.T) {
	l := newTestLog(t)
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	const producers, perProducer = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			label := strings.Repeat(string(rune('a'+p)), 40)
			for i := 0; i < perProducer; i++ {
				if err := l.Append(record(label, 0.5, true, time.Now())); err != nil {
					t.Errorf("Append failed: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	_, rows, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed (interleaved rows?): %v", err)
	}
	if len(rows) != producers*perProducer {
		t.Errorf("Expected %d rows, got %d", producers*perProducer, len(rows))
	}
}

// shortFile writes only part of each buffer, then fails like a full disk.
type shortFile struct {
	*os.File
}

func (f shortFile) Write(p []byte) (int, error) {
	n, _ := f.File.Write(p[:len(p)/2])
	return n, errors.New("no space left on device")
}

func TestAppend_FailedWriteLeavesNoPartialRow(t *testing.T) {
	l := newTestLog(t)
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := l.Append(record("person", 0.9, true, time.Unix(1000, 0))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	before, _ := os.ReadFile(l.Path())

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("Failed to open log: %v", err)
	}
	row := []string{"1001.000000", "car", "0.80", "False"}
	if err := appendRow(shortFile{f}, row); err == nil {
		t.Error("Expected error from a short write")
	}
	f.Close()

	after, _ := os.ReadFile(l.Path())
	if string(before) != string(after) {
		t.Fatalf("Failed append left bytes behind:\nbefore %q\nafter  %q", before, after)
	}

	if err := l.Append(record("dog", 0.7, false, time.Unix(1002, 0))); err != nil {
		t.Fatalf("Append after failure failed: %v", err)
	}
	_, rows, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(rows) != 2 || rows[0].Label != "person" || rows[1].Label != "dog" {
		t.Errorf("Unexpected rows after recovery: %+v", rows)
	}
}

func TestReadAll_WhileAppending(t *testing.T) {
	l := newTestLog(t)
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	const total = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			if err := l.Append(record("person", 0.9, true, time.Now())); err != nil {
				t.Errorf("Append failed: %v", err)
				return
			}
		}
	}()

	last := 0
	for reading := true; reading; {
		select {
		case <-done:
			reading = false
		default:
		}
		_, rows, err := l.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll during appends failed: %v", err)
		}
		if len(rows) < last {
			t.Fatalf("Row count went back from %d to %d", last, len(rows))
		}
		last = len(rows)
	}
	if last != total {
		t.Errorf("Expected %d rows after appends finished, got %d", total, last)
	}
}

func TestParseRow_Invalid(t *testing.T) {
	tests := [][]string{
		{"abc", "person", "0.90", "True"},
		{"1700000000.0", "person", "high", "True"},
		{"1700000000.0", "person", "0.90", "maybe"},
		{"1700000000.0", "person"},
	}
	for _, row := range tests {
		if _, err := ParseRow(row); err == nil {
			t.Errorf("Expected error for row %v", row)
		}
	}
}
