package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cavas/internal/logger"
)

// Snapshot is one encoded alert frame waiting to be written.
type Snapshot struct {
	Timestamp string
	Object    string
	Data      []byte
}

// BufferService keeps alert snapshots in memory and writes them to disk in
// batches. Snapshots past the limit are dropped until the next flush.
type BufferService struct {
	imagesDir   string
	images      []Snapshot
	bufferLimit int
	dropped     int
	logger      *logger.Logger
	now         func() time.Time
	mu          sync.Mutex
}

func NewBufferService(imagesDir string, bufferLimit int, logger *logger.Logger) *BufferService {
	return &BufferService{
		imagesDir:   imagesDir,
		bufferLimit: bufferLimit,
		images:      make([]Snapshot, 0, bufferLimit),
		logger:      logger,
		now:         time.Now,
	}
}

// Run flushes the buffer every interval until ctx is done, then flushes once more.
func (s *BufferService) Run(ctx context.Context, flushInterval time.Duration) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := s.FlushImages(); err != nil {
				s.logger.Error("Final snapshot flush failed: %v", err)
			}
			return
		case <-ticker.C:
			if _, err := s.FlushImages(); err != nil {
				s.logger.Error("Snapshot flush failed: %v", err)
			}
		}
	}
}

// AddImage queues a snapshot. It reports false when the buffer is full.
func (s *BufferService) AddImage(imageData []byte, object string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) >= s.bufferLimit {
		s.dropped++
		return false
	}

	s.images = append(s.images, Snapshot{
		Timestamp: s.now().Format("2006-01-02_15-04-05.000"),
		Object:    sanitize(object),
		Data:      imageData,
	})
	return true
}

// Pending returns the number of buffered snapshots.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// FlushImages writes buffered snapshots as <timestamp>_<label>.jpg and
// returns how many were written.
func (s *BufferService) FlushImages() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	written := 0
	for _, image := range s.images {
		filename := fmt.Sprintf("%s_%s.jpg", image.Timestamp, image.Object)
		fullpath := filepath.Join(s.imagesDir, filename)

		if err := os.WriteFile(fullpath, image.Data, 0644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", filename, err)
			continue
		}
		written++
	}

	if s.dropped > 0 {
		s.logger.Warning("Snapshot buffer was full, %d snapshot(s) dropped", s.dropped)
		s.dropped = 0
	}
	s.logger.Info("Flushed %d snapshot(s) to disk", written)
	s.images = s.images[:0]
	return written, nil
}

func sanitize(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '-'
		}
		return r
	}, label)
}
