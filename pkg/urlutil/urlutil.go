package urlutil

import "strings"

// StripBase removes the application base prefix from a request URI, keeping
// the query string. The result is what the render engine receives as its URL
// and what the page cache keys on.
//
// Properties:
//   - Pure: no state, no memory
//   - Only a leading occurrence of base is removed
//   - A URI that does not start with base is returned unchanged
//
// With the default base "/" the leading slash is removed, so "/shop?p=1"
// becomes "shop?p=1".
func StripBase(requestURI string, base string) string {
	if base == "" {
		return requestURI
	}
	return strings.TrimPrefix(requestURI, base)
}

// NormalizeBase makes sure a base path starts and ends with a slash.
// An empty base normalizes to "/".
func NormalizeBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return "/"
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}
