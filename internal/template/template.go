package template

import (
	"strings"
)

// Marker is the placeholder the rendered app markup replaces.
const Marker = "<!--app-html-->"

// Template is an HTML document split once around Marker.
type Template struct {
	head string
	tail string
}

// Parse splits raw at the first Marker occurrence.
func Parse(raw string) (Template, error) {
	head, tail, found := strings.Cut(raw, Marker)
	if !found {
		return Template{}, &TemplateError{
			Message:   "cannot split template",
			Retryable: false,
			Cause:     ErrCauseMarkerMissing,
			Err:       ErrMarkerMissing,
		}
	}
	return Template{head: head, tail: tail}, nil
}

// Head is everything before the marker.
func (t Template) Head() string {
	return t.head
}

// Tail is everything after the marker.
func (t Template) Tail() string {
	return t.tail
}
