// Package artifact persists the raw content of archived captures, exactly
// once per digest, under a per-domain storage directory.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/alvmarrod/retrospect/internal/fetch"
	"github.com/alvmarrod/retrospect/internal/snapshot"
	"github.com/alvmarrod/retrospect/internal/storage"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTransport marks a download that failed at the network or HTTP level
	ErrTransport = errors.New("transport failure")
	// ErrPersistence marks a failure to write or register an artifact
	ErrPersistence = errors.New("persistence failure")
)

var (
	unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	// <timestamp>_<digest><ext>
	artifactName = regexp.MustCompile(`^([0-9]{14})_(.+)(\.[A-Za-z0-9]{1,6})$`)
)

var extensionsByMime = map[string]string{
	"text/html":             ".html",
	"application/xhtml+xml": ".html",
	"text/plain":            ".txt",
	"application/pdf":       ".pdf",
	"application/msword":    ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.ms-excel":                                                  ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/json":                                                          ".json",
	"text/xml":                                                                  ".xml",
	"application/xml":                                                           ".xml",
}

// Registry maps (domain, digest) to stored artifacts
type Registry interface {
	LookupArtifact(domain, digest string) (*storage.Artifact, error)
	RecordArtifact(a storage.Artifact) error
	ListArtifacts(domain string) ([]storage.Artifact, error)
}

// Getter downloads capture content
type Getter interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
}

// Store writes artifacts below root/<domain>
type Store struct {
	root     string
	http     Getter
	registry Registry
	log      logrus.FieldLogger
}

// NewStore creates an artifact store rooted at root
func NewStore(root string, getter Getter, registry Registry, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		root:     root,
		http:     getter,
		registry: registry,
		log:      log.WithField("component", "artifact"),
	}
}

// Dir returns the storage directory of a domain
func (s *Store) Dir(domain string) string {
	return filepath.Join(s.root, domain)
}

// Path returns the on-disk location of an artifact
func (s *Store) Path(a storage.Artifact) string {
	return filepath.Join(s.Dir(a.Domain), a.FileName)
}

// Prepare creates root/<domain> if absent and returns it
func Prepare(root, domain string) (string, error) {
	dir := filepath.Join(root, domain)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return dir, nil
}

// Put persists the content of rec once per digest. The returned bool is
// true when the content was downloaded by this call, false when an existing
// artifact was reused.
func (s *Store) Put(ctx context.Context, domain string, rec snapshot.Record) (storage.Artifact, bool, error) {
	digest := safeName(rec.Key())

	dir, err := Prepare(s.root, domain)
	if err != nil {
		return storage.Artifact{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// Registered and still on disk: nothing to do
	existing, err := s.registry.LookupArtifact(domain, digest)
	if err != nil {
		return storage.Artifact{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if existing != nil && fileExists(s.Path(*existing)) {
		if existing.OriginalURL == "" {
			// Indexed from disk, the record supplies its source
			existing.OriginalURL = rec.OriginalURL
			existing.ArchiveURL = rec.ArchiveURL
			if err := s.registry.RecordArtifact(*existing); err != nil {
				return storage.Artifact{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
			}
		}
		return *existing, false, nil
	}

	// On disk but unregistered, e.g. after an interrupted run
	if a, ok := s.adopt(dir, domain, digest, rec); ok {
		if err := s.registry.RecordArtifact(a); err != nil {
			return storage.Artifact{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		s.log.Infof("Adopted existing file %s for digest %s", a.FileName, digest)
		return a, false, nil
	}

	resp, err := s.http.Get(ctx, rec.ArchiveURL)
	if err != nil {
		return storage.Artifact{}, false, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if !resp.OK() {
		return storage.Artifact{}, false, fmt.Errorf("%w: %w", ErrTransport, &fetch.StatusError{URL: rec.ArchiveURL, StatusCode: resp.StatusCode})
	}

	a := newArtifact(domain, digest, rec)
	a.Size = int64(len(resp.Body))

	// The archive serves the original type even when the index reports a revisit
	if served := mediaType(resp.Header.Get("Content-Type")); served != "" {
		a.FileName = FileName(rec, served)
		if _, known := extensionsByMime[served]; known {
			a.MimeType = served
		}
	}

	if err := WriteAtomic(filepath.Join(dir, a.FileName), resp.Body); err != nil {
		return storage.Artifact{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.registry.RecordArtifact(a); err != nil {
		return storage.Artifact{}, false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.log.Infof("Snapshot %s stored as %s (%d bytes)", rec.Timestamp, a.FileName, a.Size)
	return a, true, nil
}

// adopt looks for a file already holding this digest
func (s *Store) adopt(dir, domain, digest string, rec snapshot.Record) (storage.Artifact, bool) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_"+digest+".*"))
	if err != nil {
		return storage.Artifact{}, false
	}

	for _, m := range matches {
		// Skip leftover temp files
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		a := newArtifact(domain, digest, rec)
		a.FileName = filepath.Base(m)
		a.Size = info.Size()
		return a, true
	}

	return storage.Artifact{}, false
}

// Reindex registers the artifact files of domain that the registry does not
// know yet, in file name order, and returns how many were added
func (s *Store) Reindex(domain string) (int, error) {
	entries, err := os.ReadDir(s.Dir(domain))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	added := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := artifactName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}

		existing, err := s.registry.LookupArtifact(domain, m[2])
		if err != nil {
			return added, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if existing != nil {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		a := storage.Artifact{
			Domain:    domain,
			Digest:    m[2],
			Timestamp: m[1],
			MimeType:  mime.TypeByExtension(strings.ToLower(m[3])),
			FileName:  e.Name(),
			Size:      info.Size(),
			StoredAt:  info.ModTime(),
		}
		if err := s.registry.RecordArtifact(a); err != nil {
			return added, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		added++
	}

	if added > 0 {
		s.log.Infof("Indexed %d stored artifacts of %s from disk", added, domain)
	}
	return added, nil
}

func newArtifact(domain, digest string, rec snapshot.Record) storage.Artifact {
	return storage.Artifact{
		Domain:      domain,
		Digest:      digest,
		Timestamp:   rec.Timestamp,
		OriginalURL: rec.OriginalURL,
		ArchiveURL:  rec.ArchiveURL,
		MimeType:    rec.MimeType,
		StatusCode:  rec.StatusCode,
		FileName:    FileName(rec, ""),
		StoredAt:    time.Now(),
	}
}

// FileName derives the stored file name from the capture timestamp and digest
func FileName(rec snapshot.Record, contentType string) string {
	return safeName(rec.Timestamp) + "_" + safeName(rec.Key()) + Extension(rec, contentType)
}

// Extension picks a file extension from the served content type, then the
// index mimetype, then the original URL path
func Extension(rec snapshot.Record, contentType string) string {
	for _, mt := range []string{mediaType(contentType), mediaType(rec.MimeType)} {
		if ext, ok := extensionsByMime[mt]; ok {
			return ext
		}
	}

	if u, err := url.Parse(rec.OriginalURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if len(ext) > 1 && len(ext) <= 6 && !unsafeName.MatchString(ext[1:]) {
			return ext
		}
	}

	return ".bin"
}

func mediaType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

// IsHTML reports whether an artifact holds an HTML document
func IsHTML(a storage.Artifact) bool {
	if strings.Contains(strings.ToLower(a.MimeType), "html") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(a.FileName))
	return ext == ".html" || ext == ".htm"
}

func safeName(s string) string {
	s = unsafeName.ReplaceAllString(s, "-")
	if s == "" {
		return "unknown"
	}
	return s
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// WriteAtomic writes data to a temporary file in the target directory and renames it into place
func WriteAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename into %s: %w", dst, err)
	}

	return nil
}
