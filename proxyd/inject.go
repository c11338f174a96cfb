package proxyd

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// bootstrapTemplate is the script block injected into proxied HTML. The
// parent origin is baked in so the in-page agent can pin its message
// channel to the panel that framed it.
const bootstrapTemplate = `
    <script>window.__INSPECTOR_PARENT_ORIGIN__ = %ORIGIN%;</script>
    <script src="/inspector/html2canvas.min.js"></script>
    <script src="/inspector/inspector.js"></script>
    `

var bodyCloseRE = regexp.MustCompile(`(?i)</body>`)

// InjectBootstrap inserts the inspector bootstrap before the closing body
// tag, or appends it when the document has none. The origin is serialized
// as JSON; encoding/json escapes angle brackets, so the value cannot break
// out of the script tag.
func InjectBootstrap(doc, parentOrigin string) string {
	origin, err := json.Marshal(parentOrigin)
	if err != nil {
		origin = []byte(`""`)
	}
	injection := strings.ReplaceAll(bootstrapTemplate, "%ORIGIN%", string(origin))

	if loc := bodyCloseRE.FindStringIndex(doc); loc != nil {
		return doc[:loc[0]] + injection + doc[loc[0]:]
	}
	return doc + injection
}

// RewriteAssetPaths routes the document's relative href/src/action URLs
// through the proxy prefix so iframe-loaded pages fetch their assets from
// us. The document is re-rendered, so malformed markup comes out
// normalized.
func RewriteAssetPaths(doc string) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i, attr := range n.Attr {
				switch attr.Key {
				case "href", "src", "action":
					if shouldRewritePath(attr.Val) {
						n.Attr[i].Val = rewritePath(attr.Val)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return doc
	}
	return buf.String()
}

// shouldRewritePath reports whether a URL needs the proxy prefix.
// Absolute URLs, data URIs, fragments, javascript: links, and paths
// already under a reserved prefix pass through untouched.
func shouldRewritePath(path string) bool {
	switch {
	case path == "",
		strings.HasPrefix(path, "http://"),
		strings.HasPrefix(path, "https://"),
		strings.HasPrefix(path, "//"),
		strings.HasPrefix(path, "data:"),
		strings.HasPrefix(path, "/inspector"),
		strings.HasPrefix(path, "/proxy"),
		strings.HasPrefix(path, "#"),
		strings.HasPrefix(path, "javascript:"):
		return false
	}
	return true
}

func rewritePath(path string) string {
	if strings.HasPrefix(path, "/") {
		return "/proxy" + path
	}
	return "/proxy/" + path
}
