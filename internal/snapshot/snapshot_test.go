package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTarget_DerivesDomain(t *testing.T) {
	tests := []struct {
		url    string
		domain string
	}{
		{"example.com", "example.com"},
		{"https://Example.com/some/path?q=1", "example.com"},
		{"http://user@sub.example.com:8080/", "sub.example.com"},
		{"//cdn.example.org/x", "cdn.example.org"},
		{"  www.example.net/  ", "www.example.net"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			target, err := NewTarget(tt.url, "UA")
			require.NoError(t, err)
			assert.Equal(t, tt.domain, target.Domain)
			assert.Equal(t, "UA", target.UserAgent)
		})
	}
}

func TestNewTarget_Invalid(t *testing.T) {
	_, err := NewTarget("", "UA")
	assert.Error(t, err)

	_, err = NewTarget("https:///nohost", "UA")
	assert.Error(t, err)
}

func TestNewWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 17, 45, 0, 0, time.UTC)

	w, err := NewWindow(now, 5, 3)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2019, 3, 12, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2019, 3, 15, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, 4, w.Len())
	assert.Len(t, w.Days(), 4)
	assert.Equal(t, "20190312-20190315", w.String())
}

func TestNewWindow_AlwaysWellFormed(t *testing.T) {
	now := time.Date(2026, 10, 19, 23, 59, 59, 0, time.UTC)

	for years := 0; years <= 30; years += 3 {
		for days := 0; days <= 400; days += 37 {
			w, err := NewWindow(now, years, days)
			require.NoError(t, err)
			assert.False(t, w.End.Before(w.Start), "years=%d days=%d", years, days)
			assert.Equal(t, days+1, w.Len())

			all := w.Days()
			require.Len(t, all, days+1)
			assert.Equal(t, w.Start, all[0])
			assert.Equal(t, w.End, all[len(all)-1])
		}
	}
}

func TestNewWindow_RejectsNegative(t *testing.T) {
	_, err := NewWindow(time.Now(), -1, 3)
	assert.Error(t, err)

	_, err = NewWindow(time.Now(), 1, -3)
	assert.Error(t, err)
}

func TestNormalizeExtensions(t *testing.T) {
	exts, err := NormalizeExtensions(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultExtensions, exts)

	exts, err = NormalizeExtensions([]string{".PDF", "pdf", " txt ", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"pdf", "txt"}, exts)

	_, err = NormalizeExtensions([]string{"p|df"})
	assert.Error(t, err)
}

func TestExtensionFilter(t *testing.T) {
	assert.Equal(t, `.*\.(pdf|doc)$`, ExtensionFilter([]string{"pdf", "doc"}))
}

func TestRecordKey(t *testing.T) {
	r := Record{Timestamp: "20200101000000", OriginalURL: "http://example.com/", Digest: "ABC"}
	assert.Equal(t, "ABC", r.Key())

	r.Digest = ""
	assert.Equal(t, "20200101000000|http://example.com/", r.Key())

	at, err := r.CapturedAt()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), at)
}
