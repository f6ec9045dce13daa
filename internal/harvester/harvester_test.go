package harvester

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alvmarrod/retrospect/internal/metrics"
	"github.com/alvmarrod/retrospect/internal/snapshot"
	"github.com/alvmarrod/retrospect/internal/storage"
	"github.com/alvmarrod/retrospect/internal/wayback"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	byDay     map[string]wayback.Lookup
	searched  []snapshot.Record
	searchErr error
	calls     []string
	onNearest func()
}

func (f *fakeIndex) Nearest(_ context.Context, _ snapshot.Target, day time.Time) wayback.Lookup {
	d := day.Format(snapshot.DayLayout)
	f.calls = append(f.calls, "nearest "+d)
	if f.onNearest != nil {
		f.onNearest()
	}
	if l, ok := f.byDay[d]; ok {
		return l
	}
	return wayback.Lookup{Outcome: wayback.Absent}
}

func (f *fakeIndex) Search(context.Context, snapshot.Target, snapshot.Window, []string, wayback.MatchType) ([]snapshot.Record, error) {
	f.calls = append(f.calls, "search")
	return f.searched, f.searchErr
}

type fakeStore struct {
	puts   []string
	fail   map[string]bool
	stored map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{fail: make(map[string]bool), stored: make(map[string]bool)}
}

func (s *fakeStore) Put(_ context.Context, domain string, rec snapshot.Record) (storage.Artifact, bool, error) {
	s.puts = append(s.puts, rec.Key())
	if s.fail[rec.Key()] {
		return storage.Artifact{}, false, errors.New("boom")
	}
	a := storage.Artifact{Domain: domain, Digest: rec.Key(), FileName: rec.Timestamp + "_" + rec.Key() + ".html"}
	if s.stored[rec.Key()] {
		return a, false, nil
	}
	s.stored[rec.Key()] = true
	return a, true, nil
}

func found(ts, digest string) wayback.Lookup {
	return wayback.Lookup{
		Outcome: wayback.Found,
		Record:  snapshot.Record{Timestamp: ts, Digest: digest, OriginalURL: "http://example.com/", MimeType: "text/html"},
	}
}

func setup(t *testing.T) (snapshot.Target, snapshot.Window) {
	t.Helper()
	target, err := snapshot.NewTarget("http://example.com/", "UA")
	require.NoError(t, err)

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	window, err := snapshot.NewWindow(now, 5, 3)
	require.NoError(t, err)
	return target, window
}

func newTestHarvester(index Index, store Putter, tracker *metrics.Tracker) *Harvester {
	log, _ := test.NewNullLogger()
	return New(index, store, tracker, log)
}

func TestHarvest_DeduplicatesByDigest(t *testing.T) {
	target, window := setup(t)
	require.Equal(t, 4, window.Len())

	index := &fakeIndex{byDay: map[string]wayback.Lookup{
		"20190312": found("20190311000000", "D1"),
		"20190313": found("20190311000000", "D1"),
		"20190314": found("20190314000000", "D2"),
		"20190315": found("20190314000000", "D2"),
	}}
	store := newFakeStore()
	tracker := metrics.NewTracker("run", target.Domain)

	res, err := newTestHarvester(index, store, tracker).Harvest(context.Background(), target, window, Plan{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Queries)
	assert.Equal(t, []string{"D1", "D2"}, store.puts)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 2, res.Duplicates)
	require.Len(t, res.Artifacts, 2)
	assert.Equal(t, "D1", res.Artifacts[0].Digest)
	assert.Equal(t, "D2", res.Artifacts[1].Digest)

	snap := tracker.GetSnapshot()
	assert.Equal(t, 4, snap.QueriesIssued)
	assert.Equal(t, 2, snap.ArtifactsFetched)
	assert.Equal(t, 2, snap.DuplicatesSkipped)
}

func TestHarvest_SkipsMissesAndUnavailable(t *testing.T) {
	target, window := setup(t)

	index := &fakeIndex{byDay: map[string]wayback.Lookup{
		"20190312": {Outcome: wayback.Unavailable, Cause: errors.New("503")},
		"20190314": found("20190314000000", "D2"),
	}}
	store := newFakeStore()

	res, err := newTestHarvester(index, store, nil).Harvest(context.Background(), target, window, Plan{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Queries)
	assert.Equal(t, 2, res.Misses)
	assert.Equal(t, 1, res.Unavailable)
	assert.Equal(t, []string{"D2"}, store.puts)
}

func TestHarvest_SearchPassAfterDatePass(t *testing.T) {
	target, window := setup(t)

	index := &fakeIndex{
		byDay: map[string]wayback.Lookup{"20190312": found("20190311000000", "D1")},
		searched: []snapshot.Record{
			{Timestamp: "20190311000000", Digest: "D1", OriginalURL: "http://example.com/"},
			{Timestamp: "20190313000000", Digest: "P1", OriginalURL: "http://example.com/a.pdf", MimeType: "application/pdf"},
			{Timestamp: "20190314000000", Digest: "P2", OriginalURL: "http://example.com/b.docx"},
		},
	}
	store := newFakeStore()

	res, err := newTestHarvester(index, store, nil).Harvest(context.Background(), target, window, Plan{
		Search:     true,
		Extensions: snapshot.DefaultExtensions,
		Match:      wayback.MatchDomain,
	})
	require.NoError(t, err)

	assert.Equal(t, "search", index.calls[len(index.calls)-1])
	assert.Len(t, index.calls, 5)
	assert.Equal(t, 5, res.Queries)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, []string{"D1", "P1", "P2"}, store.puts)
	assert.NoError(t, res.SearchErr)
}

func TestHarvest_SearchFailureKeepsDatePass(t *testing.T) {
	target, window := setup(t)

	index := &fakeIndex{
		byDay:     map[string]wayback.Lookup{"20190312": found("20190311000000", "D1")},
		searchErr: errors.New("index down"),
	}

	res, err := newTestHarvester(index, newFakeStore(), nil).Harvest(context.Background(), target, window, Plan{Search: true})
	require.NoError(t, err)
	assert.EqualError(t, res.SearchErr, "index down")
	assert.Len(t, res.Artifacts, 1)
}

func TestHarvest_PutFailureContinues(t *testing.T) {
	target, window := setup(t)

	index := &fakeIndex{byDay: map[string]wayback.Lookup{
		"20190312": found("20190311000000", "D1"),
		"20190314": found("20190314000000", "D2"),
	}}
	store := newFakeStore()
	store.fail["D1"] = true

	res, err := newTestHarvester(index, store, nil).Harvest(context.Background(), target, window, Plan{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Fetched)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "D2", res.Artifacts[0].Digest)
}

func TestHarvest_CountsReused(t *testing.T) {
	target, window := setup(t)

	index := &fakeIndex{byDay: map[string]wayback.Lookup{"20190312": found("20190311000000", "D1")}}
	store := newFakeStore()
	store.stored["D1"] = true

	res, err := newTestHarvester(index, store, nil).Harvest(context.Background(), target, window, Plan{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Fetched)
	assert.Equal(t, 1, res.Reused)
	assert.Len(t, res.Artifacts, 1)
}

func TestHarvest_StopsOnCancel(t *testing.T) {
	target, window := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	index := &fakeIndex{onNearest: cancel}

	res, err := newTestHarvester(index, newFakeStore(), nil).Harvest(ctx, target, window, Plan{Search: true})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Queries)
	assert.Equal(t, []string{"nearest 20190312"}, index.calls)
}
