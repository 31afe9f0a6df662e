// Package journal persists one JSON document per sync run for audit and
// offline analysis. It is optional: a disabled journal writes nothing.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunRecord captures the outcome of one end-to-end sync pass.
type RunRecord struct {
	Timestamp    time.Time      `json:"timestamp"`
	Regions      int            `json:"regions"`
	Structures   int            `json:"structures,omitempty"`
	OrdersSeen   int            `json:"orders_seen"`
	RecordsKept  int            `json:"records_kept"`
	Dropped      map[string]int `json:"dropped,omitempty"`
	Upserts      int            `json:"upserts"`
	Deletes      int            `json:"deletes"`
	CacheFailed  []string       `json:"cache_failed,omitempty"`
	Inconsistent []string       `json:"inconsistent,omitempty"`
	ElapsedMS    int64          `json:"elapsed_ms"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Writer persists run records to a directory as JSON files.
type Writer struct {
	dir   string
	seq   int
	nowFn func() time.Time
}

// NewWriter constructs a journal writer rooted at dir.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteRun writes a run record to a timestamped JSON file and returns its
// path.
func (w *Writer) WriteRun(rec *RunRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	w.seq++
	name := fmt.Sprintf("run_%s_%05d.json", rec.Timestamp.UTC().Format("20060102_150405"), w.seq)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
