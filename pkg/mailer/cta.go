package mailer

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// CTAClass is the class of rendered call-to-action links. Layouts style it.
const CTAClass = "cta"

var ctaPrefix = []byte("[!cta|")

// KindCTA is the AST node kind of a call-to-action link.
var KindCTA = ast.NewNodeKind("CTA")

// CTANode is a call-to-action link written as [!cta|Label](URL).
type CTANode struct {
	ast.BaseInline
	URL   []byte
	Label []byte
}

func (n *CTANode) Kind() ast.NodeKind { return KindCTA }

func (n *CTANode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"URL":   string(n.URL),
		"Label": string(n.Label),
	}, nil)
}

type ctaParser struct{}

func (ctaParser) Trigger() []byte { return []byte{'['} }

func (ctaParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()
	if !bytes.HasPrefix(line, ctaPrefix) {
		return nil
	}

	rest := line[len(ctaPrefix):]
	labelEnd := bytes.IndexByte(rest, ']')
	if labelEnd < 1 || labelEnd+1 >= len(rest) || rest[labelEnd+1] != '(' {
		return nil
	}
	urlPart := rest[labelEnd+2:]
	urlEnd := bytes.IndexByte(urlPart, ')')
	if urlEnd < 1 {
		return nil
	}

	block.Advance(len(ctaPrefix) + labelEnd + 2 + urlEnd + 1)
	return &CTANode{
		Label: bytes.TrimSpace(rest[:labelEnd]),
		URL:   bytes.TrimSpace(urlPart[:urlEnd]),
	}
}

type ctaRenderer struct{}

func (ctaRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindCTA, renderCTA)
}

func renderCTA(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*CTANode)

	// Unsafe schemes are rendered as plain text; the body sanitizer would
	// drop the href anyway.
	if !ctaURLAllowed(n.URL) {
		_, _ = w.Write(util.EscapeHTML(n.Label))
		return ast.WalkContinue, nil
	}

	_, _ = w.WriteString(`<a href="`)
	_, _ = w.Write(util.EscapeHTML(util.URLEscape(n.URL, false)))
	_, _ = w.WriteString(`" class="` + CTAClass + `">`)
	_, _ = w.Write(util.EscapeHTML(n.Label))
	_, _ = w.WriteString(`</a>`)
	return ast.WalkContinue, nil
}

func ctaURLAllowed(u []byte) bool {
	lower := bytes.ToLower(u)
	return bytes.HasPrefix(lower, []byte("https://")) ||
		bytes.HasPrefix(lower, []byte("http://")) ||
		bytes.HasPrefix(lower, []byte("mailto:"))
}

type ctaExtension struct{}

func (ctaExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithInlineParsers(util.Prioritized(ctaParser{}, 50)))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(ctaRenderer{}, 50)))
}

// CTAExtension enables [!cta|Label](URL) call-to-action links.
func CTAExtension() goldmark.Extender { return ctaExtension{} }
