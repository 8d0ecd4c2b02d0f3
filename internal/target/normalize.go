// Package target canonicalizes user-supplied target addresses into the
// scheme://host:port/ form that runners and templates expect.
package target

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize canonicalizes raw into "scheme://host:port/". A missing scheme
// defaults to http, a missing port to 80 (http) or 443 (https). The result is
// a fixed point: Normalize(Normalize(u)) == Normalize(u).
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty target")
	}
	if i := strings.Index(raw, "://"); i < 0 {
		raw = "http://" + raw
	} else if s := raw[:i]; s != "http" && s != "https" {
		return "", fmt.Errorf("unsupported scheme %q", s)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse target %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("target %q has no host", raw)
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return fmt.Sprintf("%s://%s:%s/", u.Scheme, u.Hostname(), port), nil
}
