// Package harvester walks a time window over the snapshot index and stores
// every distinct capture it finds.
package harvester

import (
	"context"
	"time"

	"github.com/alvmarrod/retrospect/internal/metrics"
	"github.com/alvmarrod/retrospect/internal/snapshot"
	"github.com/alvmarrod/retrospect/internal/storage"
	"github.com/alvmarrod/retrospect/internal/wayback"
	"github.com/sirupsen/logrus"
)

// Index is the subset of the index client used by the harvester
type Index interface {
	Nearest(ctx context.Context, target snapshot.Target, day time.Time) wayback.Lookup
	Search(ctx context.Context, target snapshot.Target, window snapshot.Window, exts []string, match wayback.MatchType) ([]snapshot.Record, error)
}

// Putter persists capture content
type Putter interface {
	Put(ctx context.Context, domain string, rec snapshot.Record) (storage.Artifact, bool, error)
}

// Plan selects the passes of a harvest
type Plan struct {
	Search     bool
	Extensions []string
	Match      wayback.MatchType
}

// Result summarizes a harvest
type Result struct {
	Artifacts   []storage.Artifact // discovery order
	Queries     int
	Misses      int
	Unavailable int
	Duplicates  int
	Fetched     int
	Reused      int
	Failed      int
	Candidates  int
	SearchErr   error
}

// Harvester drives the index queries and artifact downloads of one run
type Harvester struct {
	index   Index
	store   Putter
	tracker *metrics.Tracker
	log     logrus.FieldLogger
}

// New creates a harvester. tracker may be nil.
func New(index Index, store Putter, tracker *metrics.Tracker, log logrus.FieldLogger) *Harvester {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Harvester{
		index:   index,
		store:   store,
		tracker: tracker,
		log:     log.WithField("component", "harvester"),
	}
}

// run holds the per-harvest dedup state
type run struct {
	target snapshot.Target
	seen   map[string]bool
	result *Result
}

// Harvest runs the date-stepped pass over window and then, if requested,
// the extension-filtered pass. It only fails when ctx is cancelled; the
// partial result is returned alongside the error.
func (h *Harvester) Harvest(ctx context.Context, target snapshot.Target, window snapshot.Window, plan Plan) (*Result, error) {
	r := &run{
		target: target,
		seen:   make(map[string]bool),
		result: &Result{},
	}

	days := window.Days()
	h.log.Infof("Querying %d days of %s between %s", len(days), target.URL, window)

	for i, day := range days {
		if err := ctx.Err(); err != nil {
			return r.result, err
		}

		h.log.Infof("[%d/%d] Looking up snapshot nearest to %s", i+1, len(days), day.Format(snapshot.DayLayout))
		r.result.Queries++
		h.count((*metrics.Tracker).IncrementQueries)

		lookup := h.index.Nearest(ctx, target, day)
		switch lookup.Outcome {
		case wayback.Found:
			h.collect(ctx, r, lookup.Record)
		case wayback.Absent:
			r.result.Misses++
			h.count((*metrics.Tracker).IncrementMisses)
			h.log.Infof("No snapshot found for %s", day.Format(snapshot.DayLayout))
		default:
			r.result.Unavailable++
			h.count((*metrics.Tracker).IncrementUnavailable)
			h.log.Warnf("Index unavailable for %s: %v", day.Format(snapshot.DayLayout), lookup.Cause)
		}
	}

	if err := ctx.Err(); err != nil {
		return r.result, err
	}

	if plan.Search {
		if err := h.search(ctx, r, window, plan); err != nil {
			return r.result, err
		}
	}

	if h.tracker != nil {
		h.log.Info(h.tracker.LogProgress())
	}
	return r.result, nil
}

// search runs the extension-filtered pass
func (h *Harvester) search(ctx context.Context, r *run, window snapshot.Window, plan Plan) error {
	h.log.Infof("Searching %s for files with extensions %v", r.target.Domain, plan.Extensions)
	r.result.Queries++
	h.count((*metrics.Tracker).IncrementQueries)

	records, err := h.index.Search(ctx, r.target, window, plan.Extensions, plan.Match)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.result.SearchErr = err
		h.log.Errorf("Extension search failed, keeping %d artifacts from date-stepped pass: %v", len(r.result.Artifacts), err)
		return nil
	}

	r.result.Candidates = len(records)
	if h.tracker != nil {
		h.tracker.AddCandidates(len(records))
	}
	h.log.Infof("Search returned %d candidates", len(records))

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.log.Infof("[%d/%d] Candidate %s (%s)", i+1, len(records), rec.OriginalURL, rec.Timestamp)
		h.collect(ctx, r, rec)
	}

	return nil
}

// collect stores rec unless its digest was already seen in this run
func (h *Harvester) collect(ctx context.Context, r *run, rec snapshot.Record) {
	key := rec.Key()
	if r.seen[key] {
		r.result.Duplicates++
		h.count((*metrics.Tracker).IncrementDuplicates)
		h.log.Debugf("Skipping duplicate capture %s (%s)", rec.Timestamp, key)
		return
	}
	r.seen[key] = true

	start := time.Now()
	a, fetched, err := h.store.Put(ctx, r.target.Domain, rec)
	if err != nil {
		r.result.Failed++
		h.count((*metrics.Tracker).IncrementFailed)
		h.log.Errorf("Failed to store snapshot %s: %v", rec.ArchiveURL, err)
		return
	}

	r.result.Artifacts = append(r.result.Artifacts, a)
	if fetched {
		r.result.Fetched++
		h.count((*metrics.Tracker).IncrementFetched)
		if h.tracker != nil {
			h.tracker.RecordFetchTime(time.Since(start))
		}
		return
	}

	r.result.Reused++
	h.count((*metrics.Tracker).IncrementReused)
	h.log.Infof("Snapshot %s already stored as %s", rec.Timestamp, a.FileName)
}

func (h *Harvester) count(inc func(*metrics.Tracker)) {
	if h.tracker != nil {
		inc(h.tracker)
	}
}
