// Package wayback queries the Wayback Machine CDX server for capture metadata.
package wayback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alvmarrod/retrospect/internal/fetch"
	"github.com/alvmarrod/retrospect/internal/snapshot"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultIndexURL is the public CDX search endpoint
	DefaultIndexURL = "https://web.archive.org/cdx/search/cdx"
	// DefaultArchiveURL is the prefix of archived captures
	DefaultArchiveURL = "https://web.archive.org/web"

	fields = "timestamp,original,mimetype,statuscode,digest,length"
)

// MatchType scopes a search to a domain or a single URL
type MatchType string

const (
	MatchDomain MatchType = "domain"
	MatchExact  MatchType = "exact"
)

// ParseMatchType validates a match type name; empty means MatchDomain
func ParseMatchType(s string) (MatchType, error) {
	switch MatchType(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchDomain:
		return MatchDomain, nil
	case MatchExact:
		return MatchExact, nil
	}
	return "", fmt.Errorf("unknown match type %q (want %q or %q)", s, MatchDomain, MatchExact)
}

// Outcome classifies a nearest lookup
type Outcome int

const (
	Found Outcome = iota
	// Absent means the index has no capture for the target
	Absent
	// Unavailable means presence could not be determined
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Absent:
		return "absent"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Lookup is the result of a nearest query
type Lookup struct {
	Outcome Outcome
	Record  snapshot.Record
	Cause   error // set when Outcome is Unavailable
}

// Getter is the transport used by the client
type Getter interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
}

// Options configures the index endpoints
type Options struct {
	IndexURL   string
	ArchiveURL string
	// RawContent requests original bytes (id_ captures) without archive rewriting
	RawContent bool
}

// Client queries the snapshot index
type Client struct {
	http Getter
	opts Options
	log  logrus.FieldLogger
}

// New creates an index client
func New(getter Getter, opts Options, log logrus.FieldLogger) *Client {
	if opts.IndexURL == "" {
		opts.IndexURL = DefaultIndexURL
	}
	if opts.ArchiveURL == "" {
		opts.ArchiveURL = DefaultArchiveURL
	}
	opts.ArchiveURL = strings.TrimRight(opts.ArchiveURL, "/")
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Client{
		http: getter,
		opts: opts,
		log:  log.WithField("component", "wayback"),
	}
}

// Nearest requests the capture closest to day. Failures never surface as
// errors: they are folded into an Unavailable lookup.
func (c *Client) Nearest(ctx context.Context, target snapshot.Target, day time.Time) Lookup {
	params := url.Values{}
	params.Set("url", target.URL)
	params.Set("closest", day.Format(snapshot.DayLayout)+"000000")
	params.Set("sort", "closest")
	params.Set("limit", "1")

	records, err := c.query(ctx, params)
	if err != nil {
		return Lookup{Outcome: Unavailable, Cause: err}
	}
	if len(records) == 0 {
		return Lookup{Outcome: Absent}
	}
	return Lookup{Outcome: Found, Record: records[0]}
}

// Search lists every capture in the window whose url key ends in one of exts
func (c *Client) Search(ctx context.Context, target snapshot.Target, window snapshot.Window, exts []string, match MatchType) ([]snapshot.Record, error) {
	exts, err := snapshot.NormalizeExtensions(exts)
	if err != nil {
		return nil, err
	}
	if match == "" {
		match = MatchDomain
	}

	searchURL := target.URL
	if match == MatchDomain {
		searchURL = target.Domain
	}

	params := url.Values{}
	params.Set("url", searchURL)
	params.Set("matchType", string(match))
	params.Set("from", window.Start.Format(snapshot.DayLayout))
	params.Set("to", window.End.Format(snapshot.DayLayout))
	params.Set("filter", "urlkey:"+snapshot.ExtensionFilter(exts))

	records, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("search %s (%s): %w", searchURL, window, err)
	}

	c.log.Debugf("Search %s %s matched %d captures", searchURL, window, len(records))
	return records, nil
}

// ArchiveURL builds the capture URL for a timestamp and original URL
func (c *Client) ArchiveURL(timestamp, original string) string {
	if c.opts.RawContent {
		return c.opts.ArchiveURL + "/" + timestamp + "id_/" + original
	}
	return c.opts.ArchiveURL + "/" + timestamp + "/" + original
}

func (c *Client) query(ctx context.Context, params url.Values) ([]snapshot.Record, error) {
	params.Set("output", "json")
	params.Set("fl", fields)
	queryURL := c.opts.IndexURL + "?" + params.Encode()

	resp, err := c.http.Get(ctx, queryURL)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &fetch.StatusError{URL: queryURL, StatusCode: resp.StatusCode}
	}

	return c.parse(resp.Body)
}

// parse decodes the CDX JSON output: a header row followed by one row per capture
func (c *Client) parse(body []byte) ([]snapshot.Record, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse index response: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, required := range []string{"timestamp", "original"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("index response missing %q column", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	records := make([]snapshot.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		ts := field(row, "timestamp")
		original := field(row, "original")
		if ts == "" || original == "" {
			continue
		}

		status, _ := strconv.Atoi(field(row, "statuscode"))
		length, _ := strconv.ParseInt(field(row, "length"), 10, 64)

		records = append(records, snapshot.Record{
			Timestamp:   ts,
			ArchiveURL:  c.ArchiveURL(ts, original),
			OriginalURL: original,
			Digest:      field(row, "digest"),
			MimeType:    field(row, "mimetype"),
			StatusCode:  status,
			Length:      length,
		})
	}

	return records, nil
}
