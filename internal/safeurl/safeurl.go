// Package safeurl vets and redacts the stream and source URLs that come out of
// untrusted playlists.
package safeurl

import "net/url"

// IsHTTPOrHTTPS reports whether u parses with an http or https scheme. Stream
// probes and source fetches refuse everything else (file://, rtmp://, udp://).
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	switch parsed.Scheme {
	case "http", "https":
		return true
	}
	return false
}

// RedactURL drops credentials and the query string so provider tokens do not
// end up in logs. Unparseable input is replaced entirely.
func RedactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		if u == "" {
			return ""
		}
		return "<redacted>"
	}
	if parsed.User != nil {
		parsed.User = url.User("xxx")
	}
	if parsed.RawQuery != "" {
		parsed.RawQuery = "xxx"
	}
	parsed.Fragment = ""
	return parsed.String()
}
