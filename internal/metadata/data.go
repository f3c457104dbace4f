package metadata

import (
	"time"
)

/*
	ErrorCause is a closed, canonical classification used exclusively for
	observability (logging, metrics, reporting).

	Rules:
	 - ErrorCause MUST NOT influence control flow.
	 - ErrorCause MUST NOT be used to decide status codes or cache writes.
	 - Packages MAY map their local errors to ErrorCause,
	   but MUST NOT invent new meanings.

If a failure does not clearly match a defined cause, CauseUnknown MUST be used.
*/
type ErrorCause int

/*
Canonical ErrorCause Table

# CauseUnknown

  - The failure does not map cleanly to any known category.
  - Recovered panics land here.

# CauseShellFailure

  - The render engine reported a failure before producing its shell.

# CauseRenderTimeout

  - The render engine did not call back before the render deadline.

# CauseStreamFailure

  - The render engine failed after the shell was sent; the response was
    ended but not cached.

# CauseTemplateInvalid

  - The HTML template could not be read, transformed, or lacks the
    app-html marker.

# CauseEngineUnavailable

  - The render engine could not be loaded (bundle missing, bundle does not
    compile, sidecar unreachable).

# CauseCacheFailure

  - A page cache read or write failed. Requests fail open.
*/
const (
	CauseUnknown ErrorCause = iota
	CauseShellFailure
	CauseRenderTimeout
	CauseStreamFailure
	CauseTemplateInvalid
	CauseEngineUnavailable
	CauseCacheFailure
)

func (c ErrorCause) String() string {
	switch c {
	case CauseShellFailure:
		return "shell_failure"
	case CauseRenderTimeout:
		return "render_timeout"
	case CauseStreamFailure:
		return "stream_failure"
	case CauseTemplateInvalid:
		return "template_invalid"
	case CauseEngineUnavailable:
		return "engine_unavailable"
	case CauseCacheFailure:
		return "cache_failure"
	default:
		return "unknown"
	}
}

// RenderOutcome is the terminal state a render session reached.
type RenderOutcome string

const (
	OutcomeStreamed   RenderOutcome = "streamed"
	OutcomeShellError RenderOutcome = "shell_error"
	OutcomeTimeout    RenderOutcome = "timeout"
	OutcomeFailed     RenderOutcome = "failed"
)

type ErrorRecord struct {
	packageName string
	action      string
	cause       ErrorCause
	errorString string
	observedAt  time.Time
	attrs       []Attribute
}

type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{
		Key:   key,
		Value: val,
	}
}

type AttributeKey string

const (
	AttrURL      AttributeKey = "url"
	AttrHost     AttributeKey = "host"
	AttrTenant   AttributeKey = "tenant"
	AttrCacheKey AttributeKey = "cache_key"
	AttrPath     AttributeKey = "path"
	AttrStack    AttributeKey = "stack"
)
