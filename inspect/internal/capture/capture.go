// Package capture assembles the immutable element snapshot handed to the
// host when an element is selected.
package capture

import (
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/visualctx/vci/inspect/internal/dom"
	"github.com/visualctx/vci/inspect/internal/source"
	"github.com/visualctx/vci/inspect/protocol"
)

// A Measurer reports the layout box of an element. Static documents have no
// layout, so ZeroMeasurer stands in when no rendering engine is attached.
type Measurer interface {
	Measure(selector string) protocol.Rect
}

// ZeroMeasurer reports an empty box for every element.
type ZeroMeasurer struct{}

func (ZeroMeasurer) Measure(string) protocol.Rect { return protocol.Rect{} }

// Capturer builds ElementContext snapshots. All fields are best effort; a
// capture never fails.
type Capturer struct {
	Measure Measurer
	Source  source.Resolver
}

func New(m Measurer, r source.Resolver) *Capturer {
	if m == nil {
		m = ZeroMeasurer{}
	}
	if r == nil {
		r = source.NopResolver{}
	}
	return &Capturer{Measure: m, Source: r}
}

// Element snapshots n. The returned context is self-contained: later
// document mutations do not affect it.
func (c *Capturer) Element(n *html.Node) protocol.ElementContext {
	if n == nil || n.Type != html.ElementNode {
		return protocol.ElementContext{}
	}

	id, _ := dom.Attr(n, "id")
	loc := c.Source.Resolve(n)
	sel := dom.Synthesize(n)

	ctx := protocol.ElementContext{
		TagName:       n.Data,
		ID:            id,
		Classes:       dom.Classes(n),
		Selector:      sel,
		HTML:          truncateMarkup(dom.OuterHTML(n), protocol.MarkupByteLimit),
		BoundingRect:  c.Measure.Measure(sel),
		SourceFile:    loc.File,
		SourceLine:    loc.Line,
		ComponentName: loc.Component,
	}
	return ctx
}

// truncateMarkup caps markup at limit bytes without splitting a UTF-8
// sequence. Truncated markup is a preview, not a parseable fragment.
func truncateMarkup(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
