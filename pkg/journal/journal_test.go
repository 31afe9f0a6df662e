package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteRun(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	w.nowFn = func() time.Time { return time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC) }

	path, err := w.WriteRun(&RunRecord{
		Regions:     68,
		OrdersSeen:  120000,
		RecordsKept: 45000,
		Upserts:     45000,
		Deletes:     321,
		Dropped:     map[string]int{"bad_price": 12},
		Success:     true,
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "run_20260831_093000_00001.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var rec RunRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	require.Equal(t, 68, rec.Regions)
	require.Equal(t, 321, rec.Deletes)
	require.True(t, rec.Success)
	require.False(t, rec.Timestamp.IsZero())
}

func TestWriteRunNil(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, err := w.WriteRun(nil)
	require.Error(t, err)
}

func TestWriteRunSequence(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	first, err := w.WriteRun(&RunRecord{Success: true})
	require.NoError(t, err)
	second, err := w.WriteRun(&RunRecord{Success: false, ErrorMessage: "fetch failed"})
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}
