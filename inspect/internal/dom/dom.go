// Package dom holds the agent-side view of the inspected page: a parsed
// HTML tree plus the selector synthesis and resolution used to address
// elements across the message channel.
package dom

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document wraps a parsed HTML tree.
type Document struct {
	Root *html.Node
}

// Parse reads and parses an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{Root: root}, nil
}

// ParseString parses an HTML document from a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Body returns the document's body element, or nil.
func (d *Document) Body() *html.Node {
	return findElement(d.Root, func(n *html.Node) bool {
		return n.DataAtom == atom.Body
	})
}

// Title returns the text of the document's <title>, if any.
func (d *Document) Title() string {
	t := findElement(d.Root, func(n *html.Node) bool {
		return n.DataAtom == atom.Title
	})
	if t == nil {
		return ""
	}
	return strings.TrimSpace(Text(t))
}

func findElement(root *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && match(n) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

// OuterHTML serialises a node and its subtree.
func OuterHTML(n *html.Node) string {
	var b strings.Builder
	// Render only fails on unsupported node types, which element nodes
	// never are.
	_ = html.Render(&b, n)
	return b.String()
}

// Text returns the concatenated text content of a subtree.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// SetText replaces a node's children with a single text node, mirroring a
// textContent assignment.
func SetText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// Attr returns the value of an attribute and whether it is present.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// Classes returns the ordered class tokens of an element.
func Classes(n *html.Node) []string {
	raw, ok := Attr(n, "class")
	if !ok {
		return nil
	}
	return strings.Fields(raw)
}

// StyleValue reads one property from the inline style attribute.
func StyleValue(n *html.Node, property string) string {
	raw, _ := Attr(n, "style")
	for _, decl := range strings.Split(raw, ";") {
		name, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(name) == property {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// SetStyleValue sets one property in the inline style attribute, preserving
// the order of other declarations. An empty value removes the property.
func SetStyleValue(n *html.Node, property, value string) {
	raw, _ := Attr(n, "style")

	var decls []string
	replaced := false
	for _, decl := range strings.Split(raw, ";") {
		name, _, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == property {
			if value != "" && !replaced {
				decls = append(decls, property+": "+value)
			}
			replaced = true
			continue
		}
		decls = append(decls, strings.TrimSpace(decl))
	}
	if !replaced && value != "" {
		decls = append(decls, property+": "+value)
	}

	if len(decls) == 0 {
		RemoveAttr(n, "style")
		return
	}
	SetAttr(n, "style", strings.Join(decls, "; "))
}
