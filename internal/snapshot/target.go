package snapshot

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultExtensions is the file-extension set used by the extension-filtered search
var DefaultExtensions = []string{"pdf", "doc", "docx", "ppt", "xls", "xlsx", "txt", "html"}

var extensionPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Target is the resource being harvested
type Target struct {
	URL       string
	Domain    string
	UserAgent string
}

// NewTarget builds a Target and derives its storage domain from the URL
func NewTarget(rawURL, userAgent string) (Target, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Target{}, fmt.Errorf("target url is required")
	}

	domain, err := ExtractDomain(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target url %q: %w", rawURL, err)
	}
	if domain == "" {
		return Target{}, fmt.Errorf("invalid target url %q: no host", rawURL)
	}

	return Target{
		URL:       rawURL,
		Domain:    domain,
		UserAgent: userAgent,
	}, nil
}

// ExtractDomain extracts the lower-cased hostname from a URL string.
// Scheme-less input such as "example.com/path" is accepted.
func ExtractDomain(urlStr string) (string, error) {
	// Handle protocol-relative URLs
	if strings.HasPrefix(urlStr, "//") {
		urlStr = "https:" + urlStr
	}

	// Bare hosts have no scheme
	if !strings.Contains(urlStr, "://") {
		urlStr = "https://" + urlStr
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}

	return strings.ToLower(parsed.Hostname()), nil
}

// NormalizeExtensions lower-cases, strips leading dots and drops duplicates.
// An empty input yields DefaultExtensions.
func NormalizeExtensions(exts []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" || seen[ext] {
			continue
		}
		if !extensionPattern.MatchString(ext) {
			return nil, fmt.Errorf("invalid extension %q", ext)
		}
		seen[ext] = true
		out = append(out, ext)
	}

	if len(out) == 0 {
		out = append(out, DefaultExtensions...)
	}
	return out, nil
}

// ExtensionFilter combines extensions into one alternation matched against the index url key
func ExtensionFilter(exts []string) string {
	return `.*\.(` + strings.Join(exts, "|") + `)$`
}
