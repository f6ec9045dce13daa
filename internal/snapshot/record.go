package snapshot

import (
	"time"
)

// TimestampLayout is the 14-digit capture timestamp format of the index
const TimestampLayout = "20060102150405"

// Record is one capture returned by the archive index
type Record struct {
	Timestamp   string
	ArchiveURL  string
	OriginalURL string
	Digest      string
	MimeType    string
	StatusCode  int // 0 when the index has no status (revisits, redirects)
	Length      int64
}

// Key identifies byte-identical captures. Records without a digest fall
// back to timestamp and original URL so they are never merged with others.
func (r Record) Key() string {
	if r.Digest != "" {
		return r.Digest
	}
	return r.Timestamp + "|" + r.OriginalURL
}

// CapturedAt parses the capture timestamp
func (r Record) CapturedAt() (time.Time, error) {
	return time.Parse(TimestampLayout, r.Timestamp)
}
