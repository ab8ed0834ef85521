package ingest

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL canonicalizes an item URL for use as a fallback identity key
// when a provider has no stable item id. Scheme and host are lowercased,
// default ports and tracking parameters are dropped and the trailing slash
// is trimmed so trivially different spellings of one URL collapse.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("ingest: url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("ingest: parse url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("ingest: url %q is missing scheme or host", raw)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}

	query := parsed.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			delete(query, key)
		}
	}

	path := parsed.EscapedPath()
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}

	normalized := scheme + "://" + host + path
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			values := query[key]
			sort.Strings(values)
			for _, value := range values {
				pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(value))
			}
		}
		normalized += "?" + strings.Join(pairs, "&")
	}
	return normalized, nil
}
