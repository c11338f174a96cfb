// Package source resolves the file, line, and component that produced a DOM
// element, using instrumentation attributes left behind by build tooling.
// Resolution is best effort: a miss yields zero values, never an error.
package source

import (
	"strconv"

	"golang.org/x/net/html"

	"github.com/visualctx/vci/inspect/internal/dom"
)

// Location describes where in the application source an element originated.
type Location struct {
	File      string
	Line      int
	Component string
}

// A Resolver maps a DOM element to its source location.
type Resolver interface {
	Resolve(n *html.Node) Location
}

// maxAncestorDepth bounds both instrumentation walks so pathological trees
// cannot stall a capture.
const maxAncestorDepth = 20

// Attribute names written by the instrumentation step. The debug-source pair
// carries the file and line; the component marker carries the display name.
const (
	attrSourceFile = "data-source-file"
	attrSourceLine = "data-source-line"
	attrComponent  = "data-component"
)

// AttrResolver reads instrumentation attributes from the element or its
// nearest annotated ancestor. The file/line walk and the component walk are
// independent: a component name may come from a higher ancestor than the
// debug-source pair, or from a different one entirely.
type AttrResolver struct{}

func (AttrResolver) Resolve(n *html.Node) Location {
	var loc Location
	if n == nil {
		return loc
	}

	cur := n
	for depth := 0; cur != nil && cur.Type == html.ElementNode && depth < maxAncestorDepth; depth++ {
		if file, ok := dom.Attr(cur, attrSourceFile); ok && file != "" {
			loc.File = file
			if raw, ok := dom.Attr(cur, attrSourceLine); ok {
				if line, err := strconv.Atoi(raw); err == nil && line > 0 {
					loc.Line = line
				}
			}
			break
		}
		cur = cur.Parent
	}

	cur = n
	for depth := 0; cur != nil && cur.Type == html.ElementNode && depth < maxAncestorDepth; depth++ {
		if name, ok := dom.Attr(cur, attrComponent); ok && name != "" {
			loc.Component = name
			break
		}
		cur = cur.Parent
	}

	return loc
}

// NopResolver resolves every element to the zero Location. It serves pages
// built without instrumentation.
type NopResolver struct{}

func (NopResolver) Resolve(*html.Node) Location { return Location{} }
