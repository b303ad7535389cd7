// Package normalize canonicalizes and deduplicates submitted URLs.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/readlater-importer/internal/importer"
)

// Rejection records an input entry that could not be scheduled.
type Rejection struct {
	Input   string
	Reason  importer.ErrorKind
	Message string
}

// Result is the deduplicated batch in order of first appearance.
type Result struct {
	URLs     []string
	Rejected []Rejection
}

// Normalize canonicalizes every entry, keeps the first occurrence of each
// canonical URL and reports invalid entries separately.
func Normalize(raw []string) Result {
	res := Result{URLs: make([]string, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))
	rejected := make(map[string]struct{})
	for _, entry := range raw {
		trimmed := strings.TrimSpace(entry)
		canonical, err := URL(trimmed)
		if err != nil {
			if _, dup := rejected[trimmed]; dup {
				continue
			}
			rejected[trimmed] = struct{}{}
			res.Rejected = append(res.Rejected, Rejection{
				Input:   trimmed,
				Reason:  importer.KindInvalidURL,
				Message: err.Error(),
			})
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		res.URLs = append(res.URLs, canonical)
	}
	return res
}

// URL returns the canonical form of an absolute http(s) URL.
// It lowercases the scheme and host, removes default ports, user info and
// fragments, sorts parseable query parameters and trims trailing slashes.
func URL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		if u.Scheme == "" {
			return "", errors.New("url must be absolute with an http or https scheme")
		}
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Opaque != "" || u.Hostname() == "" {
		return "", errors.New("url is missing a host")
	}

	u.User = nil
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.ForceQuery = false
	if u.RawQuery != "" {
		// Queries url.ParseQuery rejects (";" separators, bad escapes) stay verbatim.
		if q, err := url.ParseQuery(u.RawQuery); err == nil {
			u.RawQuery = q.Encode()
		}
	}

	u.Path = trimPath(u.Path)
	if u.RawPath != "" {
		u.RawPath = trimPath(u.RawPath)
	}
	return u.String(), nil
}

func trimPath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
