// Package pipeline wires index, harvester, artifact store and extractor into
// a single run over one target.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/alvmarrod/retrospect/internal/artifact"
	"github.com/alvmarrod/retrospect/internal/config"
	"github.com/alvmarrod/retrospect/internal/extract"
	"github.com/alvmarrod/retrospect/internal/fetch"
	"github.com/alvmarrod/retrospect/internal/harvester"
	"github.com/alvmarrod/retrospect/internal/memory"
	"github.com/alvmarrod/retrospect/internal/metrics"
	"github.com/alvmarrod/retrospect/internal/snapshot"
	"github.com/alvmarrod/retrospect/internal/storage"
	"github.com/alvmarrod/retrospect/internal/wayback"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RegistryFile is the sqlite registry name inside a domain directory
const RegistryFile = "registry.db"

// Termination reasons written to the metrics file
const (
	ReasonCompleted = "completed"
	ReasonCancelled = "cancelled"
	ReasonFailed    = "failed"
)

// Report summarizes a completed run
type Report struct {
	RunID            string
	Target           snapshot.Target
	Window           snapshot.Window
	Harvest          *harvester.Result
	CorpusPath       string
	Documents        int
	Failed           int
	Skipped          int
	NothingProcessed bool
	MetricsPath      string
	Metrics          storage.Metrics
}

// Driver runs the harvest and extraction stages for one configuration
type Driver struct {
	cfg *config.Config
	log logrus.FieldLogger
	now func() time.Time
}

// New validates cfg and creates a Driver
func New(cfg *config.Config, log logrus.FieldLogger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Driver{cfg: cfg, log: log, now: time.Now}, nil
}

// registry is what both the sqlite and in-memory backends provide
type registry interface {
	artifact.Registry
	io.Closer
}

type memoryRegistry struct {
	*memory.Registry
}

func (memoryRegistry) Close() error { return nil }

// Run executes one full pass. A cancelled ctx stops the run between network
// calls; the partial report is returned with the context error.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	cfg := d.cfg
	runID := uuid.NewString()

	target, err := snapshot.NewTarget(cfg.TargetURL, cfg.UserAgent)
	if err != nil {
		return nil, err
	}
	window, err := snapshot.NewWindow(d.now(), cfg.YearsAgo, cfg.DaysInterval)
	if err != nil {
		return nil, err
	}
	exts, err := snapshot.NormalizeExtensions(cfg.Extensions)
	if err != nil {
		return nil, err
	}
	match, err := wayback.ParseMatchType(cfg.MatchType)
	if err != nil {
		return nil, err
	}
	mode, err := extract.ParseMode(cfg.ExtractMode)
	if err != nil {
		return nil, err
	}

	log := d.log.WithFields(logrus.Fields{
		"run_id": runID,
		"domain": target.Domain,
	})
	log.Infof("Target %s, window %s (%d days)", target.URL, window, window.Len())

	log.Info("Step 1/4: Preparing storage...")

	dir, err := artifact.Prepare(cfg.OutputDir, target.Domain)
	if err != nil {
		return nil, err
	}

	reg, err := d.openRegistry(dir)
	if err != nil {
		return nil, err
	}
	defer reg.Close()

	report := &Report{
		RunID:       runID,
		Target:      target,
		Window:      window,
		MetricsPath: d.metricsPath(dir),
	}

	tracker := metrics.NewTracker(runID, target.Domain)

	fetcher := fetch.New(ctx, fetch.Options{
		UserAgent:         target.UserAgent,
		Timeout:           time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxBodyBytes:      cfg.MaxBodyBytes,
	}, log)
	client := wayback.New(fetcher, wayback.Options{
		IndexURL:   cfg.IndexURL,
		ArchiveURL: cfg.ArchiveURL,
		RawContent: cfg.RawContent,
	}, log)
	store := artifact.NewStore(cfg.OutputDir, fetcher, reg, log)

	// Artifacts of earlier runs belong to the corpus even when this window misses them
	if _, err := store.Reindex(target.Domain); err != nil {
		return nil, err
	}

	log.Info("Step 2/4: Harvesting snapshots...")

	h := harvester.New(client, store, tracker, log)
	result, err := h.Harvest(ctx, target, window, harvester.Plan{
		Search:     cfg.SearchEnabled,
		Extensions: exts,
		Match:      match,
	})
	report.Harvest = result
	if err != nil {
		d.writeMetrics(log, tracker, report.MetricsPath, ReasonCancelled)
		report.Metrics = tracker.GetSnapshot()
		return report, err
	}

	log.Infof("Harvest finished: %d artifacts (%d fetched, %d reused, %d failed)",
		len(result.Artifacts), result.Fetched, result.Reused, result.Failed)

	log.Info("Step 3/4: Extracting text and metadata...")

	extractor := extract.New(cfg.OutputDir, reg, mode, log)
	extractor.SetCorpusName(cfg.CorpusName)

	summary, err := extractor.Build(target.Domain)
	if summary != nil {
		report.CorpusPath = summary.CorpusPath
		report.Documents = summary.Documents
		report.Failed = summary.Failed
		report.Skipped = summary.Skipped
		tracker.RecordExtraction(summary.Documents, summary.Failed)
	}
	switch {
	case errors.Is(err, extract.ErrNothingProcessed):
		report.NothingProcessed = true
	case err != nil:
		d.writeMetrics(log, tracker, report.MetricsPath, ReasonFailed)
		report.Metrics = tracker.GetSnapshot()
		return report, err
	}

	log.Info("Step 4/4: Writing final metrics...")
	log.Info("Final stats: " + tracker.LogProgress())
	d.writeMetrics(log, tracker, report.MetricsPath, ReasonCompleted)
	report.Metrics = tracker.GetSnapshot()

	return report, nil
}

func (d *Driver) openRegistry(dir string) (registry, error) {
	if d.cfg.Registry == config.RegistryMemory {
		return memoryRegistry{memory.NewRegistry()}, nil
	}

	path := filepath.Join(dir, RegistryFile)
	store, err := storage.NewStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry %s: %w", path, err)
	}
	d.log.Infof("Registry initialized: %s", path)
	return store, nil
}

func (d *Driver) metricsPath(dir string) string {
	if filepath.IsAbs(d.cfg.MetricsPath) {
		return d.cfg.MetricsPath
	}
	return filepath.Join(dir, d.cfg.MetricsPath)
}

// writeMetrics failures are logged only, they never fail the run
func (d *Driver) writeMetrics(log logrus.FieldLogger, tracker *metrics.Tracker, path, reason string) {
	if err := tracker.WriteToFile(path, reason); err != nil {
		log.Errorf("Failed to write metrics: %v", err)
		return
	}
	log.Infof("Metrics written to %s", path)
}
