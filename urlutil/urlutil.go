// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package urlutil provides the URL helpers shared by providers, handlers and
// the orchestrator: destination matching, origin resolution, response
// parameter parsing and query building.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when a URL cannot be parsed.
var ErrInvalidURL = errors.New("invalid url")

// Origin returns the "<scheme>://<host>" of rawURL, or an empty string when
// rawURL is not absolute.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// Resolve resolves a root-relative ref against origin. Absolute refs are
// returned as is.
func Resolve(origin, ref string) string {
	if strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//") {
		return strings.TrimSuffix(origin, "/") + ref
	}
	return ref
}

// Params parses the query and fragment of rawURL into a flat key/value
// mapping. Fragment values take precedence over query values with the same
// key; only the first value of repeated keys is kept.
func Params(rawURL string) (map[string]string, error) {
	const op = "urlutil.Params"
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse %q: %w", op, rawURL, ErrInvalidURL)
	}
	params := map[string]string{}
	for _, raw := range []string{u.RawQuery, u.EscapedFragment()} {
		if raw == "" {
			continue
		}
		values, err := url.ParseQuery(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to parse parameters of %q: %w", op, rawURL, ErrInvalidURL)
		}
		for k, v := range values {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
	}
	return params, nil
}

// WithParams appends params to the query of base, skipping empty values and
// keeping any query base already carries.
func WithParams(base string, params url.Values) (string, error) {
	const op = "urlutil.WithParams"
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%s: unable to parse %q: %w", op, base, ErrInvalidURL)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				q.Add(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SameLocation reports whether current points at the same location as target,
// ignoring any query or fragment current carries. It is used to detect that
// a transport has returned to the expected redirect URL.
func SameLocation(current, target string) bool {
	if current == "" || target == "" {
		return false
	}
	base := current
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	t := target
	if i := strings.IndexAny(t, "?#"); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSuffix(base, "/") == strings.TrimSuffix(t, "/")
}
