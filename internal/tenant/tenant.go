// Package tenant derives the storefront tenant from the request host and
// composes the page cache key from it.
package tenant

import "strings"

// MainTenant keys requests that carry no tenant subdomain.
const MainTenant = "main"

const devHostMarker = "localhost"

/*
Resolve returns the tenant label for a Host header value, or "" when the
host names no tenant.

Rules:
  - Development hosts (anything containing "localhost") need at least two
    labels: "shop.localhost" -> "shop", "localhost" -> "".
  - Any other host needs at least three labels, assuming a two-label public
    root domain: "shop.example.com" -> "shop", "example.com" -> "".

Ports are not stripped; "shop.localhost:5173" still resolves to "shop".

Known limitation: roots with more than two labels (e.g. "example.co.uk")
report their second-level label as a tenant.
*/
func Resolve(host string) string {
	if host == "" {
		return ""
	}

	labels := strings.Split(host, ".")
	minLabels := 3
	if strings.Contains(host, devHostMarker) {
		minLabels = 2
	}
	if len(labels) < minLabels {
		return ""
	}
	return labels[0]
}

// CacheKey composes the page cache key "{tenant}:{path}", falling back to
// MainTenant when tenant is empty.
func CacheKey(tenant string, path string) string {
	if tenant == "" {
		tenant = MainTenant
	}
	return tenant + ":" + path
}

// Ptr returns tenant as a JSON-friendly pointer: nil when there is no tenant.
func Ptr(tenant string) *string {
	if tenant == "" {
		return nil
	}
	return &tenant
}
