package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alvmarrod/retrospect/internal/storage"
)

// Tracker holds and manages run metrics
type Tracker struct {
	mu               sync.Mutex
	data             storage.Metrics
	totalFetchTimeMs int64
	fetchCount       int
}

// NewTracker creates a new metrics tracker for one run
func NewTracker(runID, domain string) *Tracker {
	return &Tracker{
		data: storage.Metrics{
			RunID:     runID,
			Domain:    domain,
			StartTime: time.Now(),
		},
	}
}

// IncrementQueries counts an index query
func (t *Tracker) IncrementQueries() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.QueriesIssued++
}

// IncrementMisses counts a day with no capture
func (t *Tracker) IncrementMisses() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.IndexMisses++
}

// IncrementUnavailable counts a day the index could not answer
func (t *Tracker) IncrementUnavailable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.IndexUnavailable++
}

// AddCandidates counts records returned by the search pass
func (t *Tracker) AddCandidates(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.SearchCandidates += n
}

// IncrementDuplicates counts a record already seen in this run
func (t *Tracker) IncrementDuplicates() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.DuplicatesSkipped++
}

// IncrementFetched counts a downloaded artifact
func (t *Tracker) IncrementFetched() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ArtifactsFetched++
}

// IncrementReused counts an artifact that was already stored
func (t *Tracker) IncrementReused() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ArtifactsReused++
}

// IncrementFailed counts an artifact that could not be stored
func (t *Tracker) IncrementFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.ArtifactsFailed++
}

// RecordExtraction stores the outcome of the extraction pass
func (t *Tracker) RecordExtraction(documents, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.DocumentsExtracted = documents
	t.data.DocumentsFailed = failed
}

// RecordFetchTime records an artifact fetch duration
func (t *Tracker) RecordFetchTime(duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() storage.Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs

	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	return snapshot
}

// WriteToFile exports metrics to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.data.TotalFetchTimeMs = t.totalFetchTimeMs

	if t.fetchCount > 0 {
		t.data.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	jsonData, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic console updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Queries: %d (%d empty, %d unavailable) | Artifacts: %d fetched, %d reused, %d failed, %d duplicates",
		t.data.QueriesIssued,
		t.data.IndexMisses,
		t.data.IndexUnavailable,
		t.data.ArtifactsFetched,
		t.data.ArtifactsReused,
		t.data.ArtifactsFailed,
		t.data.DuplicatesSkipped,
	)
}
