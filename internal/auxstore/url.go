package aux

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme is a recognized auxiliary-store URL scheme (spec.md §4.J:
// "recognizes scheme file:// or ssh://host/...").
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeSSH  Scheme = "ssh"
)

// ParsedURL is a validated auxiliary-store URL, grounded on
// original_source/sod/aux/plain.py's _parse_url.
type ParsedURL struct {
	Scheme Scheme
	Host   string // empty for file://
	Path   string
}

// ParseURL validates and decomposes an aux store URL template. A bare
// path with no scheme is treated as file://, matching the original's
// "scheme or 'file'" fallback.
func ParseURL(raw string) (ParsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ParsedURL{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.RawQuery != "" {
		return ParsedURL{}, fmt.Errorf("unsupported URL: query must be empty")
	}
	if u.Fragment != "" {
		return ParsedURL{}, fmt.Errorf("unsupported URL: fragment must be empty")
	}
	if u.Path == "" {
		return ParsedURL{}, fmt.Errorf("invalid URL: no path specified")
	}

	scheme := Scheme(u.Scheme)
	if scheme == "" {
		scheme = SchemeFile
	}

	switch scheme {
	case SchemeFile:
		if u.Host != "" {
			return ParsedURL{}, fmt.Errorf("invalid URL: network location must be empty with the scheme used")
		}
	case SchemeSSH:
		if u.Host == "" {
			return ParsedURL{}, fmt.Errorf("invalid URL: network location must not be empty with the scheme used")
		}
	default:
		return ParsedURL{}, fmt.Errorf("unsupported URL: unrecognized scheme %q", u.Scheme)
	}

	if strings.Contains(u.Host, "*") {
		return ParsedURL{}, fmt.Errorf("unsupported URL: network location must not contain '*'")
	}
	if strings.Count(u.Path, "*") > 1 {
		return ParsedURL{}, fmt.Errorf("unsupported URL: multiple '*' in path")
	}

	return ParsedURL{Scheme: scheme, Host: u.Host, Path: u.Path}, nil
}

// WithSnapshotID substitutes the single '*' wildcard in p.Path with
// id, matching plain.py's _snapshot_url.
func (p ParsedURL) WithSnapshotID(id string) ParsedURL {
	if id == "" || !strings.Contains(p.Path, "*") {
		return p
	}
	p.Path = strings.Replace(p.Path, "*", id, 1)
	return p
}

// String renders the URL back to text.
func (p ParsedURL) String() string {
	if p.Scheme == SchemeFile && p.Host == "" {
		return string(SchemeFile) + "://" + p.Path
	}
	return string(p.Scheme) + "://" + p.Host + p.Path
}
