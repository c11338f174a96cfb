package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Synthesize builds a stable selector for an element.
//
// Elements with an id short-circuit to "#id" — ids are assumed page-unique.
// Otherwise the path walks up to (but excluding) the body, one segment per
// level: tag, dot-joined class tokens, and an :nth-child(n) qualifier among
// same-tag siblings when the tag is ambiguous at that level. Segments are
// joined root-to-leaf with " > ". No length cap is applied here; command
// validation caps usage.
//
// Known limitation: there is no collision fallback beyond nth-child among
// same-tag siblings, so dynamically reordered lists can re-resolve to a
// different same-shaped element after a re-render.
func Synthesize(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	if id, ok := Attr(n, "id"); ok && id != "" {
		return "#" + EscapeIdent(id)
	}

	var segments []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if cur.DataAtom == atom.Body || cur.DataAtom == atom.Html {
			break
		}

		seg := strings.ToLower(cur.Data)
		if id, ok := Attr(cur, "id"); ok && id != "" {
			// An ancestor id anchors the whole path.
			segments = append(segments, "#"+EscapeIdent(id))
			break
		}
		for _, cls := range Classes(cur) {
			seg += "." + EscapeIdent(cls)
		}
		if sameTagCount(cur) > 1 {
			seg += fmt.Sprintf(":nth-child(%d)", sameTagIndex(cur))
		}
		segments = append(segments, seg)
	}

	// Reverse to root-to-leaf order.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " > ")
}

// EscapeIdent escapes a CSS identifier for use in a selector.
func EscapeIdent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z',
			ch >= '0' && ch <= '9' && i > 0,
			ch == '-' || ch == '_', ch >= 0x80:
			b.WriteByte(ch)
		default:
			b.WriteByte('\\')
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// ValidateSelector enforces the command-side selector contract: non-empty,
// under the length cap, and syntactically resolvable. It never panics on
// hostile input.
func ValidateSelector(s string, maxLen int) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("dom: empty selector")
	}
	if len(s) > maxLen {
		return fmt.Errorf("dom: selector exceeds %d bytes", maxLen)
	}
	if _, err := ParseSelector(s); err != nil {
		return err
	}
	return nil
}
