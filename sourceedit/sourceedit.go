// Package sourceedit applies simple CSS property changes directly to
// project source files. Edits that carry a source mapping and touch a
// safe property are written straight into the inline style object or the
// component's stylesheet; everything else is handed back for an agent to
// apply.
package sourceedit

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// deterministicProperties are the CSS properties safe to write into a
// source file without understanding the surrounding code.
var deterministicProperties = map[string]bool{
	"color": true, "backgroundColor": true, "background-color": true,
	"borderColor": true, "border-color": true,
	"fontSize": true, "font-size": true,
	"fontWeight": true, "font-weight": true,
	"fontFamily": true, "font-family": true,
	"lineHeight": true, "line-height": true,
	"letterSpacing": true, "letter-spacing": true,
	"marginTop": true, "margin-top": true,
	"marginRight": true, "margin-right": true,
	"marginBottom": true, "margin-bottom": true,
	"marginLeft": true, "margin-left": true,
	"paddingTop": true, "padding-top": true,
	"paddingRight": true, "padding-right": true,
	"paddingBottom": true, "padding-bottom": true,
	"paddingLeft": true, "padding-left": true,
	"display": true, "width": true, "height": true,
	"opacity": true, "gap": true,
	"flexDirection": true, "flex-direction": true,
	"alignItems": true, "align-items": true,
	"justifyContent": true, "justify-content": true,
}

// Deterministic reports whether a property may be written directly.
func Deterministic(property string) bool {
	return deterministicProperties[property]
}

// Change is one property update for an element.
type Change struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// ElementEdit groups the changes for one selected element.
type ElementEdit struct {
	Selector   string   `json:"selector"`
	SourceFile string   `json:"sourceFile,omitempty"`
	SourceLine int      `json:"sourceLine,omitempty"`
	Changes    []Change `json:"changes"`
}

// AppliedChange records one change written to disk.
type AppliedChange struct {
	Selector string `json:"selector"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// Result is the outcome of a hybrid apply pass.
type Result struct {
	Applied    []AppliedChange `json:"applied"`
	Failed     []ElementEdit   `json:"failed"`
	AIAssisted []ElementEdit   `json:"aiAssisted"`
}

// Partition splits edits into the deterministic group (source-mapped
// changes to safe properties) and the AI-assisted group (everything
// else, textContent included). An element can land in both when its
// changes split.
func Partition(edits []ElementEdit) (deterministic, aiAssisted []ElementEdit) {
	for _, edit := range edits {
		hasSource := edit.SourceFile != "" && edit.SourceLine > 0
		var det, ai []Change
		for _, c := range edit.Changes {
			if hasSource && Deterministic(c.Property) {
				det = append(det, c)
			} else {
				ai = append(ai, c)
			}
		}
		if len(det) > 0 {
			e := edit
			e.Changes = det
			deterministic = append(deterministic, e)
		}
		if len(ai) > 0 {
			e := edit
			e.Changes = ai
			aiAssisted = append(aiAssisted, e)
		}
	}
	return deterministic, aiAssisted
}

var upperRE = regexp.MustCompile(`[A-Z]`)

// CamelToKebab converts a camelCase CSS property to kebab-case.
func CamelToKebab(name string) string {
	return strings.ToLower(upperRE.ReplaceAllString(name, "-$0"))
}

var classRE = regexp.MustCompile(`\.([a-zA-Z_][\w-]*)`)

// ExtractClassesFromSelector pulls class names out of a selector path,
// most specific first:
//
//	"#root > div.app > section.hero:nth-child(1)" -> ["hero", "app"]
func ExtractClassesFromSelector(selector string) []string {
	matches := classRE.FindAllStringSubmatch(selector, -1)
	out := make([]string, 0, len(matches))
	for i := len(matches) - 1; i >= 0; i-- {
		out = append(out, matches[i][1])
	}
	return out
}

// Engine applies edits under one project root.
type Engine struct {
	root string
}

// New builds an engine rooted at dir. dir must exist.
func New(dir string) (*Engine, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("sourceedit: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("sourceedit: project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sourceedit: project root %s is not a directory", abs)
	}
	return &Engine{root: abs}, nil
}

// resolve joins a relative source path against the root and refuses
// anything that escapes it.
func (e *Engine) resolve(rel string) (string, bool) {
	abs := filepath.Join(e.root, rel)
	r, err := filepath.Rel(e.root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

// Apply runs the hybrid pass: deterministic changes are written to disk,
// first as inline style edits, then via the component's stylesheet. A
// deterministic change that cannot be placed is routed to the AI-assisted
// group rather than failed.
func (e *Engine) Apply(edits []ElementEdit) Result {
	deterministic, aiAssisted := Partition(edits)

	res := Result{AIAssisted: aiAssisted}
	for _, edit := range deterministic {
		var unapplied []Change
		for _, c := range edit.Changes {
			ok := e.ApplyInlineStyleEdit(edit.SourceFile, edit.SourceLine, c.Property, c.Value)
			if !ok {
				if cssPath := e.FindCSSFile(edit.SourceFile); cssPath != "" {
					classes := ExtractClassesFromSelector(edit.Selector)
					ok = applyCSSClassEdit(cssPath, classes, c.Property, c.Value)
				}
			}
			if ok {
				res.Applied = append(res.Applied, AppliedChange{
					Selector: edit.Selector,
					Property: c.Property,
					Value:    c.Value,
				})
			} else {
				unapplied = append(unapplied, c)
			}
		}
		if len(unapplied) > 0 {
			leftover := edit
			leftover.Changes = unapplied
			res.AIAssisted = append(res.AIAssisted, leftover)
		}
	}
	return res
}

// FindCSSFile locates the stylesheet next to a component source file,
// trying the common naming conventions. Returns "" when none exists.
func (e *Engine) FindCSSFile(sourceFile string) string {
	abs, ok := e.resolve(sourceFile)
	if !ok {
		return ""
	}
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	dir := filepath.Dir(abs)

	for _, ext := range []string{".css", ".scss", ".module.css", ".module.scss"} {
		cssPath := filepath.Join(dir, stem+ext)
		if info, err := os.Stat(cssPath); err == nil && !info.IsDir() {
			return cssPath
		}
	}
	return ""
}

// ApplyInlineStyleEdit rewrites a `property: 'value'` entry in an inline
// style object near the mapped line. The value may use either quote
// style; the search window spans a few lines above the mapping and the
// element body below it.
func (e *Engine) ApplyInlineStyleEdit(sourceFile string, sourceLine int, property, value string) bool {
	abs, ok := e.resolve(sourceFile)
	if !ok {
		return false
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return false
	}
	lines := strings.Split(string(data), "\n")

	start := sourceLine - 1 - 5
	if start < 0 {
		start = 0
	}
	end := sourceLine - 1 + 15
	if end > len(lines) {
		end = len(lines)
	}

	for _, quote := range []string{`'`, `"`} {
		re := regexp.MustCompile(
			`(` + regexp.QuoteMeta(property) + `\s*:\s*)` + quote + `[^'"]*` + quote)
		for i := start; i < end; i++ {
			loc := re.FindStringSubmatchIndex(lines[i])
			if loc == nil {
				continue
			}
			lines[i] = lines[i][:loc[0]] + lines[i][loc[2]:loc[3]] + "'" + value + "'" + lines[i][loc[1]:]
			return os.WriteFile(abs, []byte(strings.Join(lines, "\n")), 0o644) == nil
		}
	}
	return false
}

// applyCSSClassEdit updates or adds a declaration inside the first rule
// block matching one of the element's classes. Existing declarations keep
// their position; added ones adopt the block's indentation.
func applyCSSClassEdit(cssPath string, classes []string, property, value string) bool {
	data, err := os.ReadFile(cssPath)
	if err != nil {
		return false
	}
	content := string(data)
	kebab := CamelToKebab(property)

	for _, class := range classes {
		update := regexp.MustCompile(
			`(?s)(\.` + regexp.QuoteMeta(class) + `\s*\{[^}]*?)(` +
				regexp.QuoteMeta(kebab) + `\s*:\s*)([^;]+)(;[^}]*\})`)
		if loc := update.FindStringSubmatchIndex(content); loc != nil {
			updated := content[:loc[0]] +
				content[loc[2]:loc[3]] +
				kebab + ": " + value +
				content[loc[8]:loc[9]] +
				content[loc[1]:]
			return os.WriteFile(cssPath, []byte(updated), 0o644) == nil
		}

		add := regexp.MustCompile(`(?s)(\.` + regexp.QuoteMeta(class) + `\s*\{[^}]*?)(\})`)
		if loc := add.FindStringSubmatchIndex(content); loc != nil {
			block := strings.TrimRight(content[loc[2]:loc[3]], " \t\n")
			indent := "  "
			if i := strings.LastIndexByte(block, '\n'); i >= 0 {
				last := block[i+1:]
				if trimmed := strings.TrimLeft(last, " \t"); len(trimmed) < len(last) {
					indent = last[:len(last)-len(trimmed)]
				}
			}
			updated := content[:loc[0]] +
				block + "\n" +
				indent + kebab + ": " + value + ";\n" +
				content[loc[4]:loc[5]] +
				content[loc[1]:]
			return os.WriteFile(cssPath, []byte(updated), 0o644) == nil
		}
	}
	return false
}
