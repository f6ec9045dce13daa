package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alvmarrod/retrospect/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Counters(t *testing.T) {
	tr := NewTracker("run-1", "example.com")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.IncrementQueries()
			tr.IncrementFetched()
		}()
	}
	wg.Wait()

	tr.IncrementMisses()
	tr.IncrementUnavailable()
	tr.AddCandidates(4)
	tr.IncrementDuplicates()
	tr.IncrementReused()
	tr.IncrementFailed()
	tr.RecordExtraction(7, 2)
	tr.RecordFetchTime(100 * time.Millisecond)
	tr.RecordFetchTime(300 * time.Millisecond)

	snap := tr.GetSnapshot()
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, "example.com", snap.Domain)
	assert.Equal(t, 10, snap.QueriesIssued)
	assert.Equal(t, 10, snap.ArtifactsFetched)
	assert.Equal(t, 1, snap.IndexMisses)
	assert.Equal(t, 1, snap.IndexUnavailable)
	assert.Equal(t, 4, snap.SearchCandidates)
	assert.Equal(t, 1, snap.DuplicatesSkipped)
	assert.Equal(t, 1, snap.ArtifactsReused)
	assert.Equal(t, 1, snap.ArtifactsFailed)
	assert.Equal(t, 7, snap.DocumentsExtracted)
	assert.Equal(t, 2, snap.DocumentsFailed)
	assert.Equal(t, int64(400), snap.TotalFetchTimeMs)
	assert.Equal(t, int64(200), snap.AvgFetchTimeMs)

	assert.Contains(t, tr.LogProgress(), "Queries: 10 (1 empty, 1 unavailable)")
}

func TestTracker_WriteToFile(t *testing.T) {
	tr := NewTracker("run-2", "example.com")
	tr.IncrementQueries()

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, tr.WriteToFile(path, "completed"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var m storage.Metrics
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "run-2", m.RunID)
	assert.Equal(t, 1, m.QueriesIssued)
	assert.Equal(t, "completed", m.TerminationReason)
	assert.False(t, m.EndTime.Before(m.StartTime))

	assert.Error(t, tr.WriteToFile(filepath.Join(t.TempDir(), "missing", "m.json"), "x"))
}
