package agent

import (
	"regexp"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/visualctx/vci/inspect/internal/dom"
)

// The raster renderer does not understand perceptual color function syntax;
// any occurrence must be neutralized before capture and restored after.
// One nesting level is enough for color-mix(in oklch, ...) forms.
var colorFnRE = regexp.MustCompile(`(?i)\b(?:oklch|oklab|lab|lch|color-mix)\((?:[^()]|\([^()]*\))*\)`)

// sanitizeCSS rewrites unsupported color functions to a safe fallback.
func sanitizeCSS(css string) string {
	return colorFnRE.ReplaceAllString(css, "inherit")
}

// A SheetLoader fetches the text of a linked same-origin stylesheet so it
// can be inlined for the renderer. Loads are best effort: an error skips
// the sheet rather than failing the capture.
type SheetLoader interface {
	Load(href string) (string, error)
}

// restoreSet undoes a sanitization pass. Restoration is best effort and
// never fails: a page mutated mid-capture must not strand the pipeline.
type restoreSet struct {
	steps []func()
}

func (r *restoreSet) add(step func()) { r.steps = append(r.steps, step) }

func (r *restoreSet) restore() {
	// Reverse order, so link re-insertion sees the tree the swap left.
	for i := len(r.steps) - 1; i >= 0; i-- {
		step := r.steps[i]
		func() {
			defer func() { _ = recover() }()
			step()
		}()
	}
	r.steps = nil
}

// sanitizeForCapture rewrites every style source the renderer will see:
// inline <style> blocks, linked stylesheets (swapped for a temporary inline
// block), and inline style attributes as a safety net.
func sanitizeForCapture(d *dom.Document, loader SheetLoader) *restoreSet {
	rs := &restoreSet{}
	if d == nil || d.Root == nil {
		return rs
	}

	var styleNodes, linkNodes, styledElems []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Style:
				styleNodes = append(styleNodes, n)
			case atom.Link:
				if rel, _ := dom.Attr(n, "rel"); rel == "stylesheet" {
					linkNodes = append(linkNodes, n)
				}
			default:
				if v, ok := dom.Attr(n, "style"); ok && colorFnRE.MatchString(v) {
					styledElems = append(styledElems, n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.Root)

	for _, sn := range styleNodes {
		text := sn.FirstChild
		if text == nil || text.Type != html.TextNode {
			continue
		}
		clean := sanitizeCSS(text.Data)
		if clean == text.Data {
			continue
		}
		orig := text.Data
		text.Data = clean
		t := text
		rs.add(func() { t.Data = orig })
	}

	for _, ln := range linkNodes {
		if loader == nil {
			continue
		}
		href, _ := dom.Attr(ln, "href")
		css, err := loader.Load(href)
		if err != nil {
			continue
		}
		parent := ln.Parent
		if parent == nil {
			continue
		}
		repl := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Style,
			Data:     "style",
		}
		repl.AppendChild(&html.Node{Type: html.TextNode, Data: sanitizeCSS(css)})
		next := ln.NextSibling
		parent.RemoveChild(ln)
		parent.InsertBefore(repl, next)
		link, p := ln, parent
		rs.add(func() {
			sib := repl.NextSibling
			p.RemoveChild(repl)
			p.InsertBefore(link, sib)
		})
	}

	for _, el := range styledElems {
		orig, _ := dom.Attr(el, "style")
		dom.SetAttr(el, "style", sanitizeCSS(orig))
		e, o := el, orig
		rs.add(func() { dom.SetAttr(e, "style", o) })
	}

	return rs
}
