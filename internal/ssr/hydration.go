package ssr

import (
	"encoding/json"

	"github.com/rohmanhakim/storefront-ssr/internal/tenant"
)

// InitialProps is the state the client bundle reads at startup.
type InitialProps struct {
	Tenant *string `json:"tenant"`
}

const (
	hydrationOpen  = "<script>window.__INITIAL_PROPS__="
	hydrationClose = "</script>"
)

// hydrationScript renders the inline script placed before the template tail.
// encoding/json escapes <, > and & so the payload cannot close the tag.
func hydrationScript(tenantName string) (string, error) {
	payload, err := json.Marshal(InitialProps{Tenant: tenant.Ptr(tenantName)})
	if err != nil {
		return "", err
	}
	return hydrationOpen + string(payload) + hydrationClose, nil
}
