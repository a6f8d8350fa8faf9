package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"cavas/internal/models"
	"cavas/internal/repository/sqlite"
	"cavas/internal/services/eventlog"

	"github.com/google/uuid"
)

func main() {
	logPath := flag.String("log", "logs/detections.csv", "CSV event log to read")
	dbPath := flag.String("db", "data/events.db", "Event database to import into; rows already stored are skipped (empty: summary only)")
	session := flag.String("session", "", "Session id stored with imported rows (default: random)")
	flag.Parse()

	_, records, err := eventlog.New(*logPath).ReadAll()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No logs yet.")
			return
		}
		log.Fatalf("Failed to read event log: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No logs yet.")
		return
	}

	if *dbPath != "" {
		if *session == "" {
			*session = "import-" + uuid.NewString()
		}
		importRecords(*dbPath, *session, records)
	}

	printSummary(models.Summarize(records))
}

func importRecords(dbPath, session string, records []models.EventRecord) {
	fmt.Printf("Importing %d events into %s\n", len(records), dbPath)

	db, err := sqlite.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	repo := sqlite.NewEventRepository(db, session)
	inserted, err := repo.InsertNew(records)
	if err != nil {
		log.Fatalf("Failed to insert events: %v", err)
	}

	total, err := repo.Count()
	if err != nil {
		log.Fatalf("Failed to count events: %v", err)
	}
	if skipped := len(records) - inserted; skipped > 0 {
		fmt.Printf("Skipped %d events already in the database\n", skipped)
	}
	fmt.Printf("✅ Imported %d events (session %s), database now holds %d\n", inserted, session, total)
}

func printSummary(stats *models.EventStats) {
	labels := make([]string, 0, len(stats.ObjectCounts))
	for label := range stats.ObjectCounts {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		ci, cj := stats.ObjectCounts[labels[i]], stats.ObjectCounts[labels[j]]
		if ci != cj {
			return ci > cj
		}
		return labels[i] < labels[j]
	})

	fmt.Printf("\n📊 Detected Object Counts (%d events, %d confirmed)\n", stats.TotalEvents, stats.ConfirmedEvents)
	for _, label := range labels {
		count := stats.ObjectCounts[label]
		fmt.Printf("   %-14s %5d %s\n", label, count, bar(count, stats.TotalEvents))
	}
}

// bar renders count as a share of total, up to 40 characters wide.
func bar(count, total int) string {
	if total == 0 {
		return ""
	}
	return strings.Repeat("█", count*40/total)
}
