package mailer

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer converts markdown bodies to HTML, wraps them in a layout and
// derives the plain text alternative.
type Renderer struct {
	fs fs.FS
	md goldmark.Markdown // cached markdown processor

	body *bluemonday.Policy // applied to converted markdown
	text *bluemonday.Policy // strips everything for the text part

	// Caches parsed layouts, never rendered output.
	layoutCache map[string]*template.Template
	layoutDir   string

	mu sync.RWMutex
}

// RendererConfig configures the renderer.
type RendererConfig struct {
	LayoutDir string // Default: "layouts"
}

// NewRenderer creates a new renderer with default config.
func NewRenderer(filesystem fs.FS) *Renderer {
	return NewRendererWithConfig(filesystem, RendererConfig{})
}

// NewRendererWithConfig creates a new renderer with custom config.
func NewRendererWithConfig(filesystem fs.FS, opts RendererConfig) *Renderer {
	if opts.LayoutDir == "" {
		opts.LayoutDir = "layouts"
	}

	return &Renderer{
		fs:        filesystem,
		layoutDir: opts.LayoutDir,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, CTAExtension()),
			// Raw HTML is allowed in authored content and cleaned by the body policy.
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		body:        bodyPolicy(),
		text:        bluemonday.StrictPolicy(),
		layoutCache: make(map[string]*template.Template),
	}
}

// Content is the template context for a newsletter layout.
type Content struct {
	Subject        string
	Preheader      string
	Body           string // markdown
	ViewURL        string
	UnsubscribeURL string
	Year           int
}

// RenderResult contains the final HTML and its plain text alternative.
type RenderResult struct {
	HTML string
	Text string
}

// Render converts the markdown body and executes the named layout with it.
func (r *Renderer) Render(layout string, c Content) (*RenderResult, error) {
	body, err := r.Markdown(c.Body)
	if err != nil {
		return nil, err
	}

	tmpl, err := r.getLayout(layout)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	data := map[string]any{
		"Subject":        c.Subject,
		"Preheader":      c.Preheader,
		"Content":        template.HTML(body),
		"ViewURL":        c.ViewURL,
		"UnsubscribeURL": c.UnsubscribeURL,
		"Year":           c.Year,
	}
	if err := tmpl.Execute(&out, data); err != nil {
		return nil, fmt.Errorf("%w: failed to execute layout: %v", ErrRenderFailed, err)
	}

	final := out.String()
	return &RenderResult{
		HTML: final,
		Text: r.PlainText(final),
	}, nil
}

// Markdown converts markdown to sanitized HTML. Empty input yields empty output.
func (r *Renderer) Markdown(src string) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("%w: failed to convert markdown: %v", ErrRenderFailed, err)
	}
	return r.body.Sanitize(buf.String()), nil
}

// bodyPolicy is the UGC policy plus the call-to-action class on links.
func bodyPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^` + CTAClass + `$`)).OnElements("a")
	return p
}

var (
	anchorRe    = regexp.MustCompile(`(?is)<a\s[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	blockEndRe  = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|table|blockquote|pre)>|<br\s*/?>`)
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
)

// PlainText strips markup from rendered HTML. Link targets are kept next to
// their label so the text part still carries the unsubscribe and view links.
func (r *Renderer) PlainText(s string) string {
	s = anchorRe.ReplaceAllStringFunc(s, func(m string) string {
		parts := anchorRe.FindStringSubmatch(m)
		label := strings.TrimSpace(r.text.Sanitize(parts[2]))
		href := html.UnescapeString(parts[1])
		if label == "" || label == href {
			return href
		}
		return label + " (" + href + ")"
	})
	s = blockEndRe.ReplaceAllString(s, "$0\n")
	s = html.UnescapeString(r.text.Sanitize(s))

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankRunsRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// getLayout returns a cached layout template or parses and caches it.
func (r *Renderer) getLayout(name string) (*template.Template, error) {
	r.mu.RLock()
	if cached, ok := r.layoutCache[name]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cached, ok := r.layoutCache[name]; ok {
		return cached, nil
	}

	path := filepath.Join(r.layoutDir, name)
	content, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLayoutNotFound, name, err)
	}

	layoutTmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse layout: %v", ErrRenderFailed, err)
	}

	r.layoutCache[name] = layoutTmpl
	return layoutTmpl, nil
}
