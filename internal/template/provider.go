package template

import (
	"context"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rohmanhakim/storefront-ssr/pkg/fileutil"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Provider hands out the template for one request.
type Provider interface {
	Template(ctx context.Context) (Template, error)
}

// StaticProvider serves a template read and split once at startup.
type StaticProvider struct {
	tmpl Template
}

func NewStaticProvider(path string) (*StaticProvider, error) {
	tmpl, err := load(path)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{tmpl: tmpl}, nil
}

func (p *StaticProvider) Template(ctx context.Context) (Template, error) {
	return p.tmpl, nil
}

// DevProvider re-reads the source template on every request so edits show
// up without a restart. Development script tags are appended to <head>.
type DevProvider struct {
	path    string
	scripts []string
}

func NewDevProvider(path string, scripts []string) *DevProvider {
	return &DevProvider{path: path, scripts: scripts}
}

func (p *DevProvider) Template(ctx context.Context) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	raw, readErr := fileutil.ReadTextFile(p.path)
	if readErr != nil {
		return Template{}, &TemplateError{
			Message:   p.path,
			Retryable: false,
			Cause:     ErrCauseReadFailed,
			Err:       readErr,
		}
	}
	transformed, err := InjectScripts(raw, p.scripts)
	if err != nil {
		return Template{}, err
	}
	return Parse(transformed)
}

func load(path string) (Template, error) {
	raw, readErr := fileutil.ReadTextFile(path)
	if readErr != nil {
		return Template{}, &TemplateError{
			Message:   path,
			Retryable: false,
			Cause:     ErrCauseReadFailed,
			Err:       readErr,
		}
	}
	return Parse(raw)
}

// InjectScripts appends one module script tag per src to the end of <head>.
// Comments, including Marker, survive the round trip.
func InjectScripts(raw string, scripts []string) (string, error) {
	if len(scripts) == 0 {
		return raw, nil
	}

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", &TemplateError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseTransformFailed,
			Err:       err,
		}
	}

	gqDoc := goquery.NewDocumentFromNode(doc)
	head := gqDoc.Find("head").First()
	if head.Length() == 0 {
		// html.Parse always synthesizes <head>; reaching here means the
		// parser changed under us.
		return "", &TemplateError{
			Message:   "document has no head",
			Retryable: false,
			Cause:     ErrCauseTransformFailed,
			Err:       errors.New("no head element"),
		}
	}

	for _, src := range scripts {
		head.AppendNodes(&html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Script,
			Data:     "script",
			Attr: []html.Attribute{
				{Key: "type", Val: "module"},
				{Key: "src", Val: src},
			},
		})
	}

	var sb strings.Builder
	if err := html.Render(&sb, doc); err != nil {
		return "", &TemplateError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseTransformFailed,
			Err:       err,
		}
	}
	return sb.String(), nil
}
