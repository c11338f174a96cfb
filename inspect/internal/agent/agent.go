// Package agent implements the in-page half of the inspection session. The
// agent owns the applied mode, the local selection, hover visuals, and the
// edit ledger; it reacts to inbound commands and user gestures, and reports
// everything the host needs as events. It never changes mode on its own.
package agent

import (
	"context"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/visualctx/vci/inspect/internal/capture"
	"github.com/visualctx/vci/inspect/internal/dom"
	"github.com/visualctx/vci/inspect/internal/raster"
	"github.com/visualctx/vci/inspect/protocol"
)

// Visual markers written onto the live document. Hover markers are cleared
// when leaving inspection/edit; selection markers persist across modes
// until the selection itself is cleared.
const (
	hoverAttr    = "data-inspect-hover"
	selectedAttr = "data-inspect-selected"
)

// Agent is the in-page session participant. It is not safe for concurrent
// use: the channel delivers commands serially, matching the single-threaded
// context it models.
type Agent struct {
	doc    *dom.Document
	send   func(protocol.Event)
	cap    *capture.Capturer
	raster raster.Capturer
	styles raster.StyleResolver
	sheets SheetLoader
	log    *slog.Logger
	route  string

	mode      protocol.Mode
	selection []protocol.ElementContext
	hovered   *html.Node
	edits     *ledger
}

type Option func(*Agent)

// WithCapturer replaces the snapshot capturer, typically to attach a real
// measurer or source resolver.
func WithCapturer(c *capture.Capturer) Option {
	return func(a *Agent) { a.cap = c }
}

// WithRaster attaches the screenshot backend. Without one, capture commands
// answer with SCREENSHOT_ERROR.
func WithRaster(c raster.Capturer) Option {
	return func(a *Agent) { a.raster = c }
}

// WithStyleResolver attaches the computed-style backend. Without one, style
// queries answer with an empty map.
func WithStyleResolver(r raster.StyleResolver) Option {
	return func(a *Agent) { a.styles = r }
}

// WithSheetLoader lets screenshot sanitization inline linked stylesheets.
func WithSheetLoader(l SheetLoader) Option {
	return func(a *Agent) { a.sheets = l }
}

// WithRoute sets the route reported for GET_ROUTE.
func WithRoute(route string) Option {
	return func(a *Agent) { a.route = route }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.log = l }
}

// New builds an agent over doc. send receives every outbound event; a nil
// send discards them.
func New(doc *dom.Document, send func(protocol.Event), opts ...Option) *Agent {
	a := &Agent{
		doc:   doc,
		send:  send,
		mode:  protocol.ModeInteraction,
		edits: newLedger(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cap == nil {
		a.cap = capture.New(nil, nil)
	}
	return a
}

// Start announces readiness. The host treats the latest READY as session
// start and re-sends its desired mode.
func (a *Agent) Start() {
	a.emit(protocol.Ready{Version: protocol.Version})
}

// Mode returns the applied mode.
func (a *Agent) Mode() protocol.Mode { return a.mode }

// Selection returns the agent-local selection in insertion order.
func (a *Agent) Selection() []protocol.ElementContext {
	out := make([]protocol.ElementContext, len(a.selection))
	copy(out, a.selection)
	return out
}

func (a *Agent) emit(ev protocol.Event) {
	if a.send != nil {
		a.send(ev)
	}
}

// HandleCommand dispatches one inbound command. Any malformed or
// unsatisfiable command degrades to a no-op or a typed error event; nothing
// a hostile page or peer sends can make dispatch panic.
func (a *Agent) HandleCommand(ctx context.Context, cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.SetMode:
		a.setMode(c.Mode)
	case protocol.CaptureScreenshot:
		a.screenshot(ctx, c)
	case protocol.CaptureElement:
		a.recaptureSelection()
	case protocol.ClearSelection:
		a.clearSelection()
	case protocol.GetRoute:
		a.emit(protocol.RouteChanged{Route: a.route, Title: a.doc.Title()})
	case protocol.ApplyEdit:
		a.applyEdit(c)
	case protocol.RevertEdits:
		a.revertAll()
	case protocol.RevertElement:
		a.revertElement(c.Selector)
	case protocol.GetComputedStyles:
		a.computedStyles(ctx, c.Selector)
	default:
		a.log.Debug("agent: unhandled command", "action", cmd.Action())
	}
}

func (a *Agent) setMode(m protocol.Mode) {
	if !m.Valid() || m == a.mode {
		return
	}
	prev := a.mode
	a.mode = m
	if (prev == protocol.ModeInspection || prev == protocol.ModeEdit) &&
		m != protocol.ModeInspection && m != protocol.ModeEdit {
		a.clearHover()
	}
}

// Click handles a pointer click gesture on n according to the applied mode.
func (a *Agent) Click(n *html.Node) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	switch a.mode {
	case protocol.ModeInspection:
		a.toggleSelect(n, false)
	case protocol.ModeEdit:
		a.toggleSelect(n, true)
	}
}

// Hover handles a pointer-over gesture. Only inspection and edit show a
// hover highlight; at most one element carries it at a time.
func (a *Agent) Hover(n *html.Node) {
	if a.mode != protocol.ModeInspection && a.mode != protocol.ModeEdit {
		return
	}
	a.clearHover()
	if n != nil && n.Type == html.ElementNode {
		dom.SetAttr(n, hoverAttr, "true")
		a.hovered = n
	}
}

// toggleSelect implements the selection click for both modes. In edit mode
// a re-click on an already-selected element opens its editor instead of
// toggling it off.
func (a *Agent) toggleSelect(n *html.Node, editMode bool) {
	ctx := a.cap.Element(n)
	if ctx.Selector == "" {
		return
	}

	if i := a.indexOf(ctx.Selector); i >= 0 {
		if editMode {
			a.emit(protocol.EditElementClicked{Selector: ctx.Selector})
			return
		}
		dom.RemoveAttr(n, selectedAttr)
		a.selection = append(a.selection[:i], a.selection[i+1:]...)
	} else if len(a.selection) < protocol.MaxSelected {
		dom.SetAttr(n, selectedAttr, "true")
		a.selection = append(a.selection, ctx)
	}
	// Over the cap the local add is skipped, but the event still goes
	// out: the host owns cap enforcement and the user notice.
	a.emit(protocol.ElementSelected{Element: ctx})
}

func (a *Agent) indexOf(selector string) int {
	for i, c := range a.selection {
		if c.Selector == selector {
			return i
		}
	}
	return -1
}

func (a *Agent) clearHover() {
	if a.hovered != nil {
		dom.RemoveAttr(a.hovered, hoverAttr)
		a.hovered = nil
	}
}

func (a *Agent) clearSelection() {
	for _, c := range a.selection {
		if n := a.doc.Query(c.Selector); n != nil {
			dom.RemoveAttr(n, selectedAttr)
		}
	}
	a.selection = nil
}

// recaptureSelection re-snapshots every selected element and re-emits it,
// letting the host refresh stale geometry or markup after page changes.
func (a *Agent) recaptureSelection() {
	for _, c := range a.selection {
		if n := a.doc.Query(c.Selector); n != nil {
			a.emit(protocol.ElementSelected{Element: a.cap.Element(n)})
		} else {
			a.emit(protocol.ElementSelected{Element: c})
		}
	}
}

func (a *Agent) applyEdit(c protocol.ApplyEdit) {
	if err := dom.ValidateSelector(c.Selector, protocol.MaxSelectorLength); err != nil {
		a.log.Debug("agent: dropped edit with bad selector", "err", err)
		return
	}
	n := a.doc.Query(c.Selector)
	if n == nil {
		return
	}

	var current string
	if c.Property == "textContent" {
		current = dom.Text(n)
		dom.SetText(n, c.Value)
	} else {
		current = dom.StyleValue(n, c.Property)
		dom.SetStyleValue(n, c.Property, c.Value)
	}
	a.edits.record(c.Selector, c.Property, c.Value, current)
	a.emit(protocol.EditApplied{Selector: c.Selector, Property: c.Property, Value: c.Value})
}

func (a *Agent) revertAll() {
	for _, sel := range a.edits.selectors() {
		a.restoreEntries(sel)
	}
	a.edits.clear()
	a.emit(protocol.EditsReverted{})
}

func (a *Agent) revertElement(selector string) {
	if err := dom.ValidateSelector(selector, protocol.MaxSelectorLength); err != nil {
		a.log.Debug("agent: dropped revert with bad selector", "err", err)
		return
	}
	a.restoreEntries(selector)
	a.edits.drop(selector)
	a.emit(protocol.EditsReverted{Selector: selector})
}

func (a *Agent) restoreEntries(selector string) {
	n := a.doc.Query(selector)
	if n == nil {
		return
	}
	for _, e := range a.edits.entries(selector) {
		if e.Property == "textContent" {
			dom.SetText(n, e.Original)
		} else {
			dom.SetStyleValue(n, e.Property, e.Original)
		}
	}
}

func (a *Agent) computedStyles(ctx context.Context, selector string) {
	if err := dom.ValidateSelector(selector, protocol.MaxSelectorLength); err != nil {
		a.log.Debug("agent: dropped style query with bad selector", "err", err)
		return
	}
	styles := map[string]string{}
	if a.styles != nil {
		got, err := a.styles.ComputedStyles(ctx, selector)
		if err != nil {
			a.log.Debug("agent: computed styles query failed", "selector", selector, "err", err)
		} else if got != nil {
			styles = got
		}
	}
	a.emit(protocol.ComputedStyles{Selector: selector, Styles: styles})
}

func (a *Agent) screenshot(ctx context.Context, c protocol.CaptureScreenshot) {
	if c.Selector != "" {
		if err := dom.ValidateSelector(c.Selector, protocol.MaxSelectorLength); err != nil {
			a.emit(protocol.ScreenshotError{Error: "invalid selector: " + err.Error()})
			return
		}
	}
	if a.raster == nil {
		a.emit(protocol.ScreenshotError{Error: "no capture backend attached"})
		return
	}

	rs := sanitizeForCapture(a.doc, a.sheets)
	defer rs.restore()

	img, err := a.raster.Capture(ctx, raster.Target{Selector: c.Selector, Region: c.Region})
	if err != nil {
		a.emit(protocol.ScreenshotError{Error: err.Error()})
		return
	}
	a.emit(protocol.ScreenshotCaptured{ImageData: img, Region: c.Region, Selector: c.Selector})
}
