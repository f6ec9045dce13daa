// Package extract turns stored HTML artifacts into plain-text documents and
// writes them as one unified corpus per domain.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/alvmarrod/retrospect/internal/artifact"
	"github.com/alvmarrod/retrospect/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

const (
	// DefaultCorpusName is the file name of the unified corpus
	DefaultCorpusName = "unified_snapshots.txt"

	NoTitle       = "No title"
	NoDescription = "No description"
)

var (
	// ErrExtraction marks an artifact whose content could not be parsed
	ErrExtraction = errors.New("extraction failure")
	// ErrNothingProcessed is returned when no artifact yielded a document
	ErrNothingProcessed = errors.New("no snapshots were processed")
)

// Mode selects how much is extracted from each page
type Mode string

const (
	// ModeDetailed captures title, description, text, links and image alt texts
	ModeDetailed Mode = "detailed"
	// ModeBasic captures title, description and text only
	ModeBasic Mode = "basic"
)

// ParseMode validates a mode name; empty means ModeDetailed
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeDetailed:
		return ModeDetailed, nil
	case ModeBasic:
		return ModeBasic, nil
	}
	return "", fmt.Errorf("unknown extract mode %q (want %q or %q)", s, ModeDetailed, ModeBasic)
}

// Document is the structured content of one artifact
type Document struct {
	Source      string // artifact file name
	OriginalURL string
	Timestamp   string
	Title       string
	Description string
	Text        string
	Links       []string
	ImageAlts   []string
}

// Lister provides the artifact set of a domain in discovery order
type Lister interface {
	ListArtifacts(domain string) ([]storage.Artifact, error)
}

// Summary describes a completed extraction pass
type Summary struct {
	CorpusPath string
	Documents  int
	Failed     int
	Skipped    int // non-HTML artifacts
}

// Extractor builds unified corpora
type Extractor struct {
	root       string
	lister     Lister
	mode       Mode
	corpusName string
	log        logrus.FieldLogger
}

// New creates an Extractor reading artifacts below root/<domain>
func New(root string, lister Lister, mode Mode, log logrus.FieldLogger) *Extractor {
	if mode == "" {
		mode = ModeDetailed
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{
		root:       root,
		lister:     lister,
		mode:       mode,
		corpusName: DefaultCorpusName,
		log:        log.WithField("component", "extract"),
	}
}

// SetCorpusName overrides the corpus file name
func (e *Extractor) SetCorpusName(name string) {
	if name != "" {
		e.corpusName = name
	}
}

// CorpusPath is where the corpus of a domain is written
func (e *Extractor) CorpusPath(domain string) string {
	return filepath.Join(e.root, domain, e.corpusName)
}

// Build extracts every HTML artifact of domain and rewrites its corpus.
// If nothing could be extracted the prior corpus is left in place and
// ErrNothingProcessed is returned.
func (e *Extractor) Build(domain string) (*Summary, error) {
	artifacts, err := e.lister.ListArtifacts(domain)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	e.log.Infof("Extracting text and metadata from %d artifacts of %s", len(artifacts), domain)

	summary := &Summary{CorpusPath: e.CorpusPath(domain)}
	var sections []string

	for _, a := range artifacts {
		if !artifact.IsHTML(a) {
			summary.Skipped++
			e.log.Debugf("Skipping non-HTML artifact %s (%s)", a.FileName, a.MimeType)
			continue
		}

		doc, err := e.Extract(a)
		if err != nil {
			summary.Failed++
			e.log.Errorf("Failed to process %s: %v", a.FileName, err)
			continue
		}

		sections = append(sections, Render(doc, e.mode))
		summary.Documents++
	}

	if len(sections) == 0 {
		e.log.Warn("No snapshots were processed")
		return summary, ErrNothingProcessed
	}

	if err := artifact.WriteAtomic(summary.CorpusPath, []byte(strings.Join(sections, "\n"))); err != nil {
		return summary, fmt.Errorf("failed to write corpus: %w", err)
	}

	e.log.Infof("Unified snapshot data saved to %s (%d documents)", summary.CorpusPath, summary.Documents)
	return summary, nil
}

// Extract parses one stored artifact
func (e *Extractor) Extract(a storage.Artifact) (Document, error) {
	path := filepath.Join(e.root, a.Domain, a.FileName)
	e.log.Debugf("Processing %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Document{}, fmt.Errorf("%w: %s is empty", ErrExtraction, a.FileName)
	}

	doc, err := Parse(bytes.NewReader(data), e.mode)
	if err != nil {
		return Document{}, err
	}

	doc.Source = a.FileName
	doc.OriginalURL = a.OriginalURL
	doc.Timestamp = a.Timestamp
	return doc, nil
}

// Parse extracts a Document from HTML
func Parse(r io.Reader, mode Mode) (Document, error) {
	dom, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	// Drop non-visible content before collecting text
	dom.Find("script, style, noscript, template").Remove()

	doc := Document{
		Title:       NoTitle,
		Description: NoDescription,
		Text:        collapse(visibleText(dom.Selection)),
	}

	if title := collapse(dom.Find("title").First().Text()); title != "" {
		doc.Title = title
	}

	dom.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("name", "")), "description") {
			return true
		}
		if content := collapse(s.AttrOr("content", "")); content != "" {
			doc.Description = content
		}
		return false
	})

	if mode == ModeBasic {
		return doc, nil
	}

	seen := make(map[string]bool)
	dom.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || seen[href] {
			return
		}
		seen[href] = true
		doc.Links = append(doc.Links, href)
	})

	dom.Find("img[alt]").Each(func(_ int, s *goquery.Selection) {
		if alt := collapse(s.AttrOr("alt", "")); alt != "" {
			doc.ImageAlts = append(doc.ImageAlts, alt)
		}
	})

	return doc, nil
}

// Render formats a document as one corpus section
func Render(doc Document, mode Mode) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "===== Snapshot: %s =====\n", doc.Source)
	fmt.Fprintf(&sb, "Source: %s\n", doc.OriginalURL)
	fmt.Fprintf(&sb, "Captured: %s\n", doc.Timestamp)
	fmt.Fprintf(&sb, "Title: %s\n", doc.Title)
	fmt.Fprintf(&sb, "Description: %s\n", doc.Description)
	fmt.Fprintf(&sb, "Extracted Text: %s\n", doc.Text)

	if mode != ModeBasic {
		fmt.Fprintf(&sb, "Links: %s\n", strings.Join(doc.Links, " | "))
		fmt.Fprintf(&sb, "Image Alt Texts: %s\n", strings.Join(doc.ImageAlts, " | "))
	}

	return sb.String()
}

// visibleText joins every text node under the selection with spaces
func visibleText(sel *goquery.Selection) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range sel.Nodes {
		walk(n)
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
