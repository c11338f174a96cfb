package dom

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// The resolver supports exactly the selector subset the synthesizer emits,
// plus plain descendant combinators for host-supplied selectors:
//
//	tag, #id, .class, tag.class, tag#id
//	:nth-child(n)  — position among same-tag element siblings, 1-based
//	"A > B"        — child combinator
//	"A B"          — descendant combinator

type compound struct {
	combinator byte // ' ' descendant, '>' child; first compound ignores it
	tag        string
	id         string
	classes    []string
	nth        int // 0 = absent
}

// ParseSelector validates a selector string and returns its compiled form.
func ParseSelector(s string) ([]compound, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("dom: empty selector")
	}

	tokens := tokenize(s)
	var parts []compound
	nextComb := byte(' ')
	for _, tok := range tokens {
		if tok == ">" {
			if len(parts) == 0 {
				return nil, fmt.Errorf("dom: selector starts with combinator")
			}
			nextComb = '>'
			continue
		}
		c, err := parseCompound(tok)
		if err != nil {
			return nil, err
		}
		c.combinator = nextComb
		parts = append(parts, c)
		nextComb = ' '
	}
	if nextComb == '>' {
		return nil, fmt.Errorf("dom: selector ends with combinator")
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("dom: empty selector")
	}
	return parts, nil
}

// tokenize splits a selector on whitespace, leaving backslash escapes
// intact so identifiers with escaped spaces survive as one token.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && i+1 < len(s):
			cur.WriteByte(ch)
			cur.WriteByte(s[i+1])
			i++
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

// unescapedIndexByte returns the index of the first occurrence of b that
// is not preceded by a backslash, or -1.
func unescapedIndexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == b {
			return i
		}
	}
	return -1
}

func parseCompound(tok string) (compound, error) {
	var c compound

	// Split off :nth-child(n).
	if i := unescapedIndexByte(tok, ':'); i >= 0 {
		if !strings.HasPrefix(tok[i:], ":nth-child(") {
			return c, fmt.Errorf("dom: unsupported pseudo-class in %q", tok)
		}
		rest := tok[i+len(":nth-child("):]
		j := strings.IndexByte(rest, ')')
		if j < 0 || rest[j+1:] != "" {
			return c, fmt.Errorf("dom: malformed nth-child in %q", tok)
		}
		n, err := strconv.Atoi(rest[:j])
		if err != nil || n < 1 {
			return c, fmt.Errorf("dom: malformed nth-child in %q", tok)
		}
		c.nth = n
		tok = tok[:i]
	}

	// Walk tag / #id / .class runs, honouring backslash escapes.
	var cur strings.Builder
	kind := byte('t')
	flush := func() error {
		s := cur.String()
		cur.Reset()
		switch kind {
		case 't':
			c.tag = strings.ToLower(s)
		case '#':
			if s == "" {
				return fmt.Errorf("dom: empty id in selector")
			}
			c.id = s
		case '.':
			if s == "" {
				return fmt.Errorf("dom: empty class in selector")
			}
			c.classes = append(c.classes, s)
		}
		return nil
	}

	for i := 0; i < len(tok); i++ {
		ch := tok[i]
		switch {
		case ch == '\\' && i+1 < len(tok):
			cur.WriteByte(tok[i+1])
			i++
		case ch == '#' || ch == '.':
			if err := flush(); err != nil {
				return c, err
			}
			kind = ch
		default:
			cur.WriteByte(ch)
		}
	}
	if err := flush(); err != nil {
		return c, err
	}

	if c.tag == "" && c.id == "" && len(c.classes) == 0 && c.nth == 0 {
		return c, fmt.Errorf("dom: empty compound in selector")
	}
	return c, nil
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && strings.ToLower(n.Data) != c.tag {
		return false
	}
	if c.id != "" {
		id, _ := Attr(n, "id")
		if id != c.id {
			return false
		}
	}
	if len(c.classes) > 0 {
		have := Classes(n)
		for _, want := range c.classes {
			found := false
			for _, cls := range have {
				if cls == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if c.nth > 0 && sameTagIndex(n) != c.nth {
		return false
	}
	return true
}

// sameTagIndex returns the 1-based position of n among element siblings
// sharing its tag. This mirrors the synthesizer's nth-child numbering.
func sameTagIndex(n *html.Node) int {
	idx := 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			idx++
			if s == n {
				return idx
			}
		}
	}
	return idx
}

// sameTagCount returns how many element siblings (n included) share n's tag.
func sameTagCount(n *html.Node) int {
	if n.Parent == nil {
		return 1
	}
	count := 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode && s.Data == n.Data {
			count++
		}
	}
	return count
}

// Query returns the first element matching the selector, or nil. Malformed
// selectors resolve to nil; callers that need the distinction use
// ParseSelector first.
func (d *Document) Query(selector string) *html.Node {
	all := d.QueryAll(selector)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// QueryAll returns all elements matching the selector in document order.
func (d *Document) QueryAll(selector string) []*html.Node {
	parts, err := ParseSelector(selector)
	if err != nil {
		return nil
	}
	return resolve(d.Root, parts)
}

func resolve(root *html.Node, parts []compound) []*html.Node {
	matches := collectDescendants(root, parts[0])

	for _, p := range parts[1:] {
		var next []*html.Node
		seen := make(map[*html.Node]bool)
		for _, parent := range matches {
			var cands []*html.Node
			if p.combinator == '>' {
				for c := parent.FirstChild; c != nil; c = c.NextSibling {
					if p.matches(c) {
						cands = append(cands, c)
					}
				}
			} else {
				cands = collectDescendants(parent, p)
			}
			for _, c := range cands {
				if !seen[c] {
					seen[c] = true
					next = append(next, c)
				}
			}
		}
		matches = next
	}
	return matches
}

func collectDescendants(root *html.Node, p compound) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if p.matches(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}
