// Command journal-dump prints the entries of a capture journal as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cs-isia-racer/car/internal/capture"
)

type record struct {
	Recorded string `json:"recorded"`
	capture.Entry
	Missing bool `json:"missing,omitempty"`
}

func main() {
	var (
		path   = flag.String("path", "", "Capture session directory or journal file")
		limit  = flag.Int("limit", 0, "Number of records to dump (0 dumps all)")
		verify = flag.Bool("verify", false, "Flag entries whose frame file is missing")
		pretty = flag.Bool("pretty", false, "Indent JSON output")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}
	journalPath := *path
	if info, err := os.Stat(journalPath); err == nil && info.IsDir() {
		journalPath = filepath.Join(journalPath, capture.JournalFile)
	}
	dir := filepath.Dir(journalPath)

	f, err := os.Open(journalPath)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}

	count, missing := 0, 0
	err = capture.ReadJournal(f, func(recorded time.Time, entry capture.Entry) bool {
		rec := record{Recorded: recorded.Format(time.RFC3339Nano), Entry: entry}
		if *verify {
			if _, err := os.Stat(filepath.Join(dir, entry.File)); err != nil {
				rec.Missing = true
				missing++
			}
		}
		if err := enc.Encode(rec); err != nil {
			log.Printf("record %d: JSON encode error: %v", count, err)
		}
		count++
		return *limit <= 0 || count < *limit
	})
	if err != nil {
		log.Fatalf("read journal: %v", err)
	}
	if *verify {
		fmt.Fprintf(os.Stderr, "%d records, %d missing frames\n", count, missing)
	}
}
