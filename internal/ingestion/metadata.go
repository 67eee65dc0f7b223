package ingestion

import (
	"net/url"
	"strings"
)

// platformHosts maps known content platform hostnames to our canonical
// platform tag. Subdomains are matched by suffix (e.g. "old.reddit.com").
var platformHosts = map[string]string{
	"reddit.com":           "reddit",
	"stackoverflow.com":    "stackoverflow",
	"github.com":           "github",
	"dev.to":               "devto",
	"news.ycombinator.com": "hackernews",
}

// InferPlatform inspects a post URL and returns the canonical platform tag,
// or empty string when the host matches no known platform. CLI flags take
// precedence over inferred values; this is the best-effort fallback when the
// scrape job doesn't specify one explicitly.
func InferPlatform(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())

	for known, tag := range platformHosts {
		if host == known || strings.HasSuffix(host, "."+known) {
			return tag
		}
	}
	return ""
}

// PageTitle derives a display title for a scraped web page from its URL:
// the last meaningful path segment with separators turned into spaces, or
// the hostname when the path is empty. A proper <title> extraction would
// need an HTML parser; the URL-derived label is enough for citation lists.
func PageTitle(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	segments := trimSegments(parsed.Path)
	if len(segments) == 0 {
		return parsed.Hostname()
	}

	last := segments[len(segments)-1]
	// Strip a trailing file extension (".html", ".md").
	if dot := strings.LastIndex(last, "."); dot > 0 {
		last = last[:dot]
	}
	last = strings.NewReplacer("-", " ", "_", " ").Replace(last)
	if last == "" {
		return parsed.Hostname()
	}
	return last
}

// trimSegments splits a URL path into non-empty lowercase segments.
func trimSegments(path string) []string {
	parts := strings.Split(strings.ToLower(path), "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
