// Package formatter renders an export payload as a markdown brief for a
// coding agent. Output is budgeted in tokens: the formatter renders at
// decreasing detail levels until the result fits, and hard-truncates as a
// last resort. Whatever the level, the header, the selected elements, and
// the files-to-modify list survive.
package formatter

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/visualctx/vci/inspect"
)

const (
	// CharsPerToken is the rough chars-per-token ratio used for budgeting.
	CharsPerToken = 4

	DefaultTokenBudget = 4000
	MinTokenBudget     = 100
	MaxTokenBudget     = 100_000

	// MaxElementHTML caps each embedded markup snippet.
	MaxElementHTML = 500
)

// detail levels, tried in order until the output fits the budget.
type level int

const (
	levelFull       level = iota // everything
	levelNoHTML                  // markup snippets replaced by text renditions
	levelLiteImages              // image analyses reduced to descriptions
	levelEssential               // no images, no screenshot
)

// Screenshot carries a page capture's vision analysis into the brief.
type Screenshot struct {
	Analysis map[string]any
}

type formatter struct {
	budget     int
	screenshot *Screenshot
	markup     *bluemonday.Policy
	strip      *bluemonday.Policy
}

type Option func(*formatter)

// WithTokenBudget sets the output budget, clamped to [MinTokenBudget,
// MaxTokenBudget].
func WithTokenBudget(n int) Option {
	return func(f *formatter) { f.budget = n }
}

// WithScreenshot attaches a page screenshot analysis section.
func WithScreenshot(s Screenshot) Option {
	return func(f *formatter) { f.screenshot = &s }
}

// Format renders the payload as markdown within the token budget.
func Format(p inspect.Payload, opts ...Option) string {
	markup := bluemonday.UGCPolicy()
	markup.AllowAttrs("id", "class", "style").Globally()
	f := &formatter{
		budget: DefaultTokenBudget,
		markup: markup,
		strip:  bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.budget < MinTokenBudget {
		f.budget = MinTokenBudget
	}
	if f.budget > MaxTokenBudget {
		f.budget = MaxTokenBudget
	}

	limit := f.budget * CharsPerToken
	var out string
	for lvl := levelFull; lvl <= levelEssential; lvl++ {
		out = f.render(p, lvl)
		if len(out) <= limit {
			return out
		}
	}
	return hardTruncate(out, limit)
}

func (f *formatter) render(p inspect.Payload, lvl level) string {
	var b strings.Builder

	b.WriteString("# Visual Edit Request\n\n")
	fmt.Fprintf(&b, "Route: %s\n", p.Route)
	if p.Title != "" {
		fmt.Fprintf(&b, "Page: %s\n", p.Title)
	}
	if p.Instruction != "" {
		b.WriteString("\n")
		for _, line := range strings.Split(strings.TrimSpace(p.Instruction), "\n") {
			fmt.Fprintf(&b, "> %s\n", line)
		}
	}

	if len(p.Elements) > 0 {
		b.WriteString("\n## Selected Elements\n")
		for i, e := range p.Elements {
			f.renderElement(&b, i+1, e, lvl)
		}
	}

	if lvl < levelEssential && len(p.UnlinkedImages) > 0 {
		b.WriteString("\n## Design References\n\n")
		for _, img := range p.UnlinkedImages {
			f.renderImage(&b, img, lvl)
		}
	}

	if lvl < levelEssential && f.screenshot != nil && len(f.screenshot.Analysis) > 0 {
		b.WriteString("\n## Screenshot Analysis\n\n")
		b.WriteString(visionSummary(f.screenshot.Analysis, lvl >= levelLiteImages))
		b.WriteString("\n")
	}

	if files := sourceFiles(p); len(files) > 0 {
		b.WriteString("\n## Files to Modify\n\n")
		for _, file := range files {
			fmt.Fprintf(&b, "- %s\n", file)
		}
	}

	return b.String()
}

func (f *formatter) renderElement(b *strings.Builder, n int, e inspect.ExportEntry, lvl level) {
	fmt.Fprintf(b, "\n### %d. `%s`\n\n", n, e.Selector)
	if e.ComponentName != "" || e.SourceFile != "" {
		b.WriteString("- Component: ")
		if e.ComponentName != "" {
			b.WriteString(e.ComponentName)
		}
		if e.SourceFile != "" {
			if e.ComponentName != "" {
				b.WriteString(" ")
			}
			fmt.Fprintf(b, "(%s:%d)", e.SourceFile, e.SourceLine)
		}
		b.WriteString("\n")
	}
	if e.Prompt != "" {
		fmt.Fprintf(b, "- Instruction: %s\n", e.Prompt)
	}
	if len(e.SavedEdits) > 0 {
		b.WriteString("- Applied edits:\n")
		for _, edit := range e.SavedEdits {
			fmt.Fprintf(b, "  - %s: %s (was %q)\n", edit.Property, edit.Value, edit.Original)
		}
	}

	if e.Markup != "" {
		if lvl == levelFull {
			snippet := truncate(f.markup.Sanitize(e.Markup), MaxElementHTML)
			fmt.Fprintf(b, "\n```html\n%s\n```\n", snippet)
		} else if text := f.textRendition(e.Markup); text != "" {
			fmt.Fprintf(b, "- Content: %s\n", truncate(text, MaxElementHTML))
		}
	}

	if lvl < levelEssential {
		for _, img := range e.Images {
			f.renderImage(b, img, lvl)
		}
	}
}

func (f *formatter) renderImage(b *strings.Builder, img inspect.UploadedImage, lvl level) {
	fmt.Fprintf(b, "- Reference image: %s", img.Filename)
	if img.Dimensions != "" {
		fmt.Fprintf(b, " (%s)", img.Dimensions)
	}
	if img.Description != "" {
		fmt.Fprintf(b, " — %s", img.Description)
	}
	b.WriteString("\n")
	if len(img.VisionAnalysis) > 0 {
		if s := visionSummary(img.VisionAnalysis, lvl >= levelLiteImages); s != "" {
			fmt.Fprintf(b, "  %s\n", strings.ReplaceAll(s, "\n", "\n  "))
		}
	}
}

// textRendition converts a markup snippet to markdown text. Falls back to
// tag stripping when the snippet does not convert.
func (f *formatter) textRendition(markup string) string {
	md, err := htmltomarkdown.ConvertString(markup)
	if err != nil {
		md = f.strip.Sanitize(markup)
	}
	return strings.Join(strings.Fields(md), " ")
}

// visionSummary flattens a vision analysis object. In lite mode only the
// description survives.
func visionSummary(v map[string]any, lite bool) string {
	desc, _ := v["description"].(string)
	if lite {
		return strings.TrimSpace(desc)
	}
	var parts []string
	if desc != "" {
		parts = append(parts, strings.TrimSpace(desc))
	}
	for _, key := range []string{"contentType", "layout", "colorPalette", "uiElements", "textContent", "accessibility"} {
		val := v[key]
		if val == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", key, flatten(val)))
	}
	return strings.Join(parts, "\n")
}

func flatten(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			items = append(items, flatten(item))
		}
		return strings.Join(items, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// sourceFiles collects the deduped source references of the payload.
func sourceFiles(p inspect.Payload) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range p.Elements {
		if e.SourceFile == "" {
			continue
		}
		ref := e.SourceFile
		if e.SourceLine > 0 {
			ref = fmt.Sprintf("%s:%d", e.SourceFile, e.SourceLine)
		}
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return hardTruncate(s, n)
}

// hardTruncate cuts at a byte limit without splitting a UTF-8 sequence,
// appending an ellipsis marker.
func hardTruncate(s string, limit int) string {
	const marker = "..."
	if limit <= len(marker) {
		return marker[:max(limit, 0)]
	}
	cut := limit - len(marker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}
