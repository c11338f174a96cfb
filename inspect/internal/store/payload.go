package store

import (
	"time"

	"golang.org/x/net/html"

	"github.com/visualctx/vci/inspect/internal/dom"
	"github.com/visualctx/vci/inspect/protocol"
)

// ExportEntry is one selected element as it appears in the export payload.
type ExportEntry struct {
	Selector      string                   `json:"selector"`
	Markup        string                   `json:"markup"`
	SourceFile    string                   `json:"sourceFile,omitempty"`
	SourceLine    int                      `json:"sourceLine,omitempty"`
	ComponentName string                   `json:"componentName,omitempty"`
	SavedEdits    []protocol.PendingEdit   `json:"savedEdits,omitempty"`
	Prompt        string                   `json:"prompt,omitempty"`
	Images        []protocol.UploadedImage `json:"images,omitempty"`
}

// Payload is the immutable export object handed to the exporter. It is a
// value snapshot: later store mutations do not affect it.
type Payload struct {
	Route          string                   `json:"route"`
	Title          string                   `json:"title,omitempty"`
	Elements       []ExportEntry            `json:"elements"`
	UnlinkedImages []protocol.UploadedImage `json:"unlinkedImages,omitempty"`
	Instruction    string                   `json:"instruction,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}

// ExportPayload aggregates the session into its export form: one entry per
// selected element with its net saved edits, prompt, and linked images,
// plus the unlinked images and the top-level instruction. Style edits ride
// in savedEdits and leave the markup untouched; textContent edits rewrite
// the markup snippet.
func (s *Store) ExportPayload() Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Payload{
		Route:       s.route,
		Title:       s.title,
		Instruction: s.instruction,
		Timestamp:   time.Now().UTC(),
	}

	for _, c := range s.selection {
		entry := ExportEntry{
			Selector:      c.Selector,
			Markup:        c.HTML,
			SourceFile:    c.SourceFile,
			SourceLine:    c.SourceLine,
			ComponentName: c.ComponentName,
			Prompt:        s.prompts[c.Selector],
		}
		for _, e := range s.edits[c.Selector] {
			entry.SavedEdits = append(entry.SavedEdits, e)
			if e.Property == "textContent" {
				entry.Markup = substituteText(entry.Markup, e.Value)
			}
		}
		for _, img := range s.images {
			if img.LinkedSelector == c.Selector {
				entry.Images = append(entry.Images, img)
			}
		}
		p.Elements = append(p.Elements, entry)
	}

	for _, img := range s.images {
		if img.LinkedSelector == "" {
			p.UnlinkedImages = append(p.UnlinkedImages, img)
		}
	}
	return p
}

// substituteText re-renders a markup snippet with its text content
// replaced. Best effort: a snippet that does not parse back to an element
// (for instance one cut by the capture byte cap) is returned unchanged.
func substituteText(markup, text string) string {
	d, err := dom.ParseString(markup)
	if err != nil {
		return markup
	}
	body := d.Body()
	if body == nil {
		return markup
	}
	var el *html.Node
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			el = c
			break
		}
	}
	if el == nil {
		return markup
	}
	dom.SetText(el, text)
	return dom.OuterHTML(el)
}
