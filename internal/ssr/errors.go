package ssr

import (
	"errors"

	"github.com/rohmanhakim/storefront-ssr/internal/metadata"
	"github.com/rohmanhakim/storefront-ssr/internal/pagecache"
	"github.com/rohmanhakim/storefront-ssr/internal/render"
	"github.com/rohmanhakim/storefront-ssr/internal/template"
)

// mapErrorToMetadataCause maps collaborator errors to the canonical
// metadata.ErrorCause table.
//
// This mapping is observational only and MUST NOT be used
// to derive control-flow decisions.
func mapErrorToMetadataCause(err error) metadata.ErrorCause {
	var (
		templateErr *template.TemplateError
		engineErr   *render.EngineError
		renderErr   *render.RenderError
		cacheErr    *pagecache.CacheError
	)
	switch {
	case errors.As(err, &templateErr):
		return metadata.CauseTemplateInvalid
	case errors.As(err, &engineErr):
		return metadata.CauseEngineUnavailable
	case errors.As(err, &cacheErr):
		return metadata.CauseCacheFailure
	case errors.As(err, &renderErr):
		switch renderErr.Cause {
		case render.ErrCauseStreamFailed:
			return metadata.CauseStreamFailure
		case render.ErrCauseAborted:
			return metadata.CauseRenderTimeout
		default:
			return metadata.CauseShellFailure
		}
	default:
		return metadata.CauseUnknown
	}
}
