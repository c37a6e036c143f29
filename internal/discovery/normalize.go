// internal/discovery/normalize.go
package discovery

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var ignoredExtensions = map[string]struct{}{
	".css": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".woff": {}, ".woff2": {}, ".ico": {}, ".svg": {}, ".ttf": {}, ".eot": {},
	".js": {}, ".map": {}, ".mp4": {}, ".mp3": {}, ".zip": {}, ".pdf": {},
}

var (
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	ErrOutOfScope        = errors.New("out of scope")
	ErrStaticAsset       = errors.New("static asset ignored")
)

// Canonicalize resolves rawURL against baseURL (when relative) and normalizes it:
// the fragment is dropped, default ports are removed, an empty path becomes "/"
// and query parameters are sorted. Only http and https are accepted.
func Canonicalize(rawURL, baseURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}

	if !u.IsAbs() {
		switch {
		case baseURL != "":
			base, err := url.Parse(baseURL)
			if err != nil {
				return nil, fmt.Errorf("invalid base URL provided: %w", err)
			}
			u = base.ResolveReference(u)
		case u.Host != "":
			u.Scheme = "https"
		default:
			return nil, fmt.Errorf("relative URL without base: %s", rawURL)
		}
	}

	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) || (u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Hostname()
		if strings.Contains(u.Host, ":") {
			u.Host = "[" + u.Host + "]"
		}
	}

	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u, nil
}

// CanonicalString is Canonicalize without a base, returning the string form.
func CanonicalString(rawURL string) (string, error) {
	u, err := Canonicalize(rawURL, "")
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// normalizeAndValidate canonicalizes a discovered link and applies scope and asset filtering.
func normalizeAndValidate(scope ScopeManager, rawURL, baseURL string) (*url.URL, error) {
	u, err := Canonicalize(rawURL, baseURL)
	if err != nil {
		return nil, err
	}
	if scope != nil && !scope.IsInScope(u) {
		return nil, fmt.Errorf("%w: %s", ErrOutOfScope, u.String())
	}
	if _, ignore := ignoredExtensions[strings.ToLower(path.Ext(u.Path))]; ignore {
		return nil, ErrStaticAsset
	}
	return u, nil
}
