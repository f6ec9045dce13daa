package storage

import "time"

// Artifact is the persisted raw content of one capture
type Artifact struct {
	Seq         int64 // discovery order within the registry
	Domain      string
	Digest      string
	Timestamp   string
	OriginalURL string
	ArchiveURL  string
	MimeType    string
	StatusCode  int
	FileName    string
	Size        int64
	StoredAt    time.Time
}

// Metrics tracks run statistics for export on exit
type Metrics struct {
	RunID              string    `json:"run_id"`
	Domain             string    `json:"domain"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	QueriesIssued      int       `json:"queries_issued"`
	IndexMisses        int       `json:"index_misses"`
	IndexUnavailable   int       `json:"index_unavailable"`
	SearchCandidates   int       `json:"search_candidates"`
	DuplicatesSkipped  int       `json:"duplicates_skipped"`
	ArtifactsFetched   int       `json:"artifacts_fetched"`
	ArtifactsReused    int       `json:"artifacts_reused"`
	ArtifactsFailed    int       `json:"artifacts_failed"`
	DocumentsExtracted int       `json:"documents_extracted"`
	DocumentsFailed    int       `json:"documents_failed"`
	TotalFetchTimeMs   int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs     int64     `json:"avg_fetch_time_ms"`
	TerminationReason  string    `json:"termination_reason"`
}
