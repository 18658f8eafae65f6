// Package urls provides utility functions for working with URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// IsURLValid reports whether raw is an absolute http(s) URL with a host.
func IsURLValid(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || u.Hostname() == "" {
		return false
	}

	scheme := strings.ToLower(u.Scheme)

	return scheme == schemeHTTP || scheme == schemeHTTPS
}

// Normalize trims spaces, parses and returns the URL in string format.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	return u.String()
}

// Redact strips userinfo so proxy credentials never reach logs or metric labels.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}

	return u.Redacted()
}
