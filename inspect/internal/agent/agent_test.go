package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/visualctx/vci/inspect/internal/dom"
	"github.com/visualctx/vci/inspect/internal/raster"
	"github.com/visualctx/vci/inspect/protocol"
)

const page = `<!DOCTYPE html>
<html><head><title>App</title></head><body>
<div id="root">
  <button id="submit-btn" class="btn btn-primary" style="color: blue">Submit</button>
  <p class="note">first</p>
  <p class="note">second</p>
</div>
</body></html>`

type harness struct {
	agent  *Agent
	doc    *dom.Document
	events []protocol.Event
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	d, err := dom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{doc: d}
	h.agent = New(d, func(ev protocol.Event) { h.events = append(h.events, ev) }, opts...)
	return h
}

func (h *harness) handle(cmd protocol.Command) {
	h.agent.HandleCommand(context.Background(), cmd)
}

func (h *harness) lastEvent(t *testing.T) protocol.Event {
	t.Helper()
	if len(h.events) == 0 {
		t.Fatal("no events emitted")
	}
	return h.events[len(h.events)-1]
}

func TestStartAnnouncesReady(t *testing.T) {
	h := newHarness(t)
	h.agent.Start()
	ready, ok := h.lastEvent(t).(protocol.Ready)
	if !ok || ready.Version != protocol.Version {
		t.Fatalf("got %#v, want READY{%s}", h.lastEvent(t), protocol.Version)
	}
}

func TestModeDrivenOnlyByCommands(t *testing.T) {
	h := newHarness(t)
	if h.agent.Mode() != protocol.ModeInteraction {
		t.Fatalf("initial mode: %s", h.agent.Mode())
	}

	h.handle(protocol.SetMode{Mode: protocol.ModeInspection})
	if h.agent.Mode() != protocol.ModeInspection {
		t.Fatalf("after SET_MODE: %s", h.agent.Mode())
	}

	// Clicks never change mode.
	h.agent.Click(h.doc.Query("#submit-btn"))
	if h.agent.Mode() != protocol.ModeInspection {
		t.Fatalf("click changed mode: %s", h.agent.Mode())
	}

	// Invalid modes are dropped.
	h.handle(protocol.SetMode{Mode: "turbo"})
	if h.agent.Mode() != protocol.ModeInspection {
		t.Fatalf("invalid mode applied: %s", h.agent.Mode())
	}
}

func TestSelectionToggle(t *testing.T) {
	h := newHarness(t)
	h.handle(protocol.SetMode{Mode: protocol.ModeInspection})
	btn := h.doc.Query("#submit-btn")

	h.agent.Click(btn)
	if got := h.agent.Selection(); len(got) != 1 || got[0].Selector != "#submit-btn" {
		t.Fatalf("after first click: %+v", got)
	}
	if _, ok := dom.Attr(btn, selectedAttr); !ok {
		t.Error("selection marker missing")
	}
	ev, ok := h.lastEvent(t).(protocol.ElementSelected)
	if !ok || ev.Element.Selector != "#submit-btn" {
		t.Fatalf("got %#v, want ELEMENT_SELECTED", h.lastEvent(t))
	}

	// Second click toggles off, and still reports the delta element.
	h.agent.Click(btn)
	if got := h.agent.Selection(); len(got) != 0 {
		t.Fatalf("after toggle off: %+v", got)
	}
	if _, ok := dom.Attr(btn, selectedAttr); ok {
		t.Error("selection marker survived toggle off")
	}
	if _, ok := h.lastEvent(t).(protocol.ElementSelected); !ok {
		t.Fatalf("toggle off emitted %#v", h.lastEvent(t))
	}
}

func TestSelectionCapStillEmits(t *testing.T) {
	d, err := dom.ParseString(`<html><body><ul>
		<li>a</li><li>b</li><li>c</li><li>d</li><li>e</li><li>f</li>
		<li>g</li><li>h</li><li>i</li><li>j</li><li>k</li>
	</ul></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	var events []protocol.Event
	a := New(d, func(ev protocol.Event) { events = append(events, ev) })
	a.HandleCommand(context.Background(), protocol.SetMode{Mode: protocol.ModeInspection})

	for _, li := range d.QueryAll("li") {
		a.Click(li)
	}
	if got := len(a.Selection()); got != protocol.MaxSelected {
		t.Errorf("selection size: got %d, want %d", got, protocol.MaxSelected)
	}
	// The 11th click is locally ignored but still reported.
	selected := 0
	for _, ev := range events {
		if _, ok := ev.(protocol.ElementSelected); ok {
			selected++
		}
	}
	if selected != 11 {
		t.Errorf("ELEMENT_SELECTED count: got %d, want 11", selected)
	}
}

func TestEditModeReclickOpensEditor(t *testing.T) {
	h := newHarness(t)
	h.handle(protocol.SetMode{Mode: protocol.ModeEdit})
	btn := h.doc.Query("#submit-btn")

	h.agent.Click(btn)
	if len(h.agent.Selection()) != 1 {
		t.Fatal("first edit-mode click did not select")
	}

	h.agent.Click(btn)
	ev, ok := h.lastEvent(t).(protocol.EditElementClicked)
	if !ok || ev.Selector != "#submit-btn" {
		t.Fatalf("got %#v, want EDIT_ELEMENT_CLICKED", h.lastEvent(t))
	}
	if len(h.agent.Selection()) != 1 {
		t.Error("re-click toggled the element off")
	}
}

func TestHoverClearedOnLeavingInspection(t *testing.T) {
	h := newHarness(t)
	h.handle(protocol.SetMode{Mode: protocol.ModeInspection})
	btn := h.doc.Query("#submit-btn")

	h.agent.Hover(btn)
	if _, ok := dom.Attr(btn, hoverAttr); !ok {
		t.Fatal("hover marker missing")
	}

	h.handle(protocol.SetMode{Mode: protocol.ModeInteraction})
	if _, ok := dom.Attr(btn, hoverAttr); ok {
		t.Error("hover marker survived mode exit")
	}
}

func TestHoverIgnoredOutsideInspectEdit(t *testing.T) {
	h := newHarness(t)
	btn := h.doc.Query("#submit-btn")
	h.agent.Hover(btn)
	if _, ok := dom.Attr(btn, hoverAttr); ok {
		t.Error("hover marker set in interaction mode")
	}
}

func TestApplyEditStyleAndRevert(t *testing.T) {
	h := newHarness(t)
	btn := h.doc.Query("#submit-btn")

	h.handle(protocol.ApplyEdit{Selector: "#submit-btn", Property: "color", Value: "red"})
	if got := dom.StyleValue(btn, "color"); got != "red" {
		t.Fatalf("color after apply: %q", got)
	}
	ev, ok := h.lastEvent(t).(protocol.EditApplied)
	if !ok || ev.Property != "color" || ev.Value != "red" {
		t.Fatalf("got %#v, want EDIT_APPLIED", h.lastEvent(t))
	}

	// Second edit of the same pair keeps the first original.
	h.handle(protocol.ApplyEdit{Selector: "#submit-btn", Property: "color", Value: "green"})
	h.handle(protocol.RevertElement{Selector: "#submit-btn"})

	if got := dom.StyleValue(btn, "color"); got != "blue" {
		t.Errorf("color after revert: got %q, want pre-session blue", got)
	}
	rev, ok := h.lastEvent(t).(protocol.EditsReverted)
	if !ok || rev.Selector != "#submit-btn" {
		t.Fatalf("got %#v, want EDITS_REVERTED{#submit-btn}", h.lastEvent(t))
	}
	if len(h.agent.edits.entries("#submit-btn")) != 0 {
		t.Error("ledger entries survived revert")
	}
}

func TestApplyEditTextContent(t *testing.T) {
	h := newHarness(t)
	btn := h.doc.Query("#submit-btn")

	h.handle(protocol.ApplyEdit{Selector: "#submit-btn", Property: "textContent", Value: "Confirm"})
	if got := dom.Text(btn); got != "Confirm" {
		t.Fatalf("text after apply: %q", got)
	}

	h.handle(protocol.RevertEdits{})
	if got := dom.Text(btn); got != "Submit" {
		t.Errorf("text after revert all: got %q, want Submit", got)
	}
	rev, ok := h.lastEvent(t).(protocol.EditsReverted)
	if !ok || rev.Selector != "" {
		t.Fatalf("got %#v, want EDITS_REVERTED{all}", h.lastEvent(t))
	}
}

func TestEditBackToOriginalLeavesNoEntry(t *testing.T) {
	h := newHarness(t)

	h.handle(protocol.ApplyEdit{Selector: "#submit-btn", Property: "color", Value: "red"})
	h.handle(protocol.ApplyEdit{Selector: "#submit-btn", Property: "color", Value: "blue"})

	if got := h.agent.edits.entries("#submit-btn"); len(got) != 0 {
		t.Errorf("no-op edit retained: %+v", got)
	}
}

func TestInvalidSelectorsAreDropped(t *testing.T) {
	h := newHarness(t)
	before := len(h.events)

	h.handle(protocol.ApplyEdit{Selector: "", Property: "color", Value: "red"})
	h.handle(protocol.ApplyEdit{Selector: "div:hover", Property: "color", Value: "red"})
	h.handle(protocol.RevertElement{Selector: ""})

	if len(h.events) != before {
		t.Errorf("invalid selectors produced events: %#v", h.events[before:])
	}
}

func TestComputedStylesMissYieldsEmptyMap(t *testing.T) {
	h := newHarness(t)
	h.handle(protocol.GetComputedStyles{Selector: "#submit-btn"})

	ev, ok := h.lastEvent(t).(protocol.ComputedStyles)
	if !ok {
		t.Fatalf("got %#v, want COMPUTED_STYLES", h.lastEvent(t))
	}
	if ev.Styles == nil || len(ev.Styles) != 0 {
		t.Errorf("styles: got %#v, want empty map", ev.Styles)
	}
}

type stubRaster struct {
	img string
	err error
}

func (s stubRaster) Capture(context.Context, raster.Target) (string, error) {
	return s.img, s.err
}

func TestScreenshotSuccessAndFailure(t *testing.T) {
	h := newHarness(t, WithRaster(stubRaster{img: "data:image/png;base64,xyz"}))
	h.handle(protocol.CaptureScreenshot{Selector: "#submit-btn"})

	shot, ok := h.lastEvent(t).(protocol.ScreenshotCaptured)
	if !ok || shot.ImageData == "" || shot.Selector != "#submit-btn" {
		t.Fatalf("got %#v, want SCREENSHOT_CAPTURED", h.lastEvent(t))
	}

	h = newHarness(t, WithRaster(stubRaster{err: errors.New("renderer crashed")}))
	h.handle(protocol.CaptureScreenshot{})
	if _, ok := h.lastEvent(t).(protocol.ScreenshotError); !ok {
		t.Fatalf("got %#v, want SCREENSHOT_ERROR", h.lastEvent(t))
	}

	h = newHarness(t) // no backend
	h.handle(protocol.CaptureScreenshot{})
	if _, ok := h.lastEvent(t).(protocol.ScreenshotError); !ok {
		t.Fatalf("got %#v, want SCREENSHOT_ERROR without backend", h.lastEvent(t))
	}
}

func TestGetRoute(t *testing.T) {
	h := newHarness(t, WithRoute("/dashboard"))
	h.handle(protocol.GetRoute{})

	ev, ok := h.lastEvent(t).(protocol.RouteChanged)
	if !ok || ev.Route != "/dashboard" || ev.Title != "App" {
		t.Fatalf("got %#v, want ROUTE_CHANGED{/dashboard, App}", h.lastEvent(t))
	}
}

func TestClearSelectionIdempotent(t *testing.T) {
	h := newHarness(t)
	h.handle(protocol.SetMode{Mode: protocol.ModeInspection})
	btn := h.doc.Query("#submit-btn")
	h.agent.Click(btn)

	h.handle(protocol.ClearSelection{})
	if len(h.agent.Selection()) != 0 {
		t.Fatal("selection survived clear")
	}
	if _, ok := dom.Attr(btn, selectedAttr); ok {
		t.Error("selection marker survived clear")
	}

	// Repeated clears are safe.
	h.handle(protocol.ClearSelection{})
	if len(h.agent.Selection()) != 0 {
		t.Error("repeated clear changed state")
	}
}

func TestCaptureElementRecapturesSelection(t *testing.T) {
	h := newHarness(t)
	h.handle(protocol.SetMode{Mode: protocol.ModeInspection})
	btn := h.doc.Query("#submit-btn")
	h.agent.Click(btn)

	dom.SetText(btn, "Updated")
	before := len(h.events)
	h.handle(protocol.CaptureElement{})

	if len(h.events) != before+1 {
		t.Fatalf("events after re-capture: %d, want %d", len(h.events), before+1)
	}
	ev := h.events[len(h.events)-1].(protocol.ElementSelected)
	if ev.Element.Selector != "#submit-btn" {
		t.Errorf("selector: %q", ev.Element.Selector)
	}
	if !strings.Contains(ev.Element.HTML, ">Updated<") {
		t.Errorf("re-captured markup stale: %q", ev.Element.HTML)
	}
}
