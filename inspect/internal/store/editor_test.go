package store

import (
	"testing"

	"github.com/visualctx/vci/inspect/protocol"
)

func TestStageLivePreviewsAndDropsNoOps(t *testing.T) {
	r := &recorder{}
	s := New(r.send)
	s.ToggleElement(ctxFor("#b"))

	e := s.OpenEditor("#b", map[string]string{"color": "blue"})
	e.Stage("color", "red")

	ae, ok := r.last(t).(protocol.ApplyEdit)
	if !ok || ae.Selector != "#b" || ae.Value != "red" {
		t.Fatalf("got %#v, want APPLY_EDIT{#b, color, red}", r.last(t))
	}
	if !e.HasUnsaved() {
		t.Fatal("staged edit not reported as unsaved")
	}

	// Back to the baseline: the entry disappears, the preview still goes
	// out so the page shows the chosen value.
	e.Stage("color", "blue")
	if e.HasUnsaved() {
		t.Error("no-op edit retained")
	}
	if _, ok := r.last(t).(protocol.ApplyEdit); !ok {
		t.Error("round-trip stage sent no preview")
	}
}

func TestStageKeepsFirstOriginal(t *testing.T) {
	s := New(nil)
	e := s.OpenEditor("#b", map[string]string{"color": "blue"})
	e.Stage("color", "red")
	e.Stage("color", "green")

	staged := e.Staged()
	if len(staged) != 1 {
		t.Fatalf("staged: %+v", staged)
	}
	if staged[0].Value != "green" || staged[0].Original != "blue" {
		t.Errorf("got value=%q original=%q, want green/blue", staged[0].Value, staged[0].Original)
	}
}

func TestSaveMergesAndIsIdempotent(t *testing.T) {
	s := New(nil)
	s.ToggleElement(ctxFor("#b"))
	e := s.OpenEditor("#b", map[string]string{"color": "blue"})

	e.Stage("color", "red")
	e.Save()
	first := s.SavedEdits("#b")
	e.Save() // nothing new staged
	second := s.SavedEdits("#b")

	if len(first) != 1 || first[0] != (protocol.PendingEdit{Property: "color", Value: "red", Original: "blue"}) {
		t.Fatalf("durable after save: %+v", first)
	}
	if len(second) != 1 || second[0] != first[0] {
		t.Errorf("second save changed the ledger: %+v", second)
	}
	if e.HasUnsaved() {
		t.Error("session still dirty after save")
	}
}

func TestOriginalSurvivesAcrossSessions(t *testing.T) {
	s := New(nil)
	s.ToggleElement(ctxFor("#b"))

	e := s.OpenEditor("#b", map[string]string{"color": "blue"})
	e.Stage("color", "red")
	e.Save()

	// A later session opens with the edited page as its baseline; the
	// durable original still anchors no-op detection.
	e2 := s.OpenEditor("#b", map[string]string{"color": "red"})
	e2.Stage("color", "blue")
	e2.Save()

	if got := s.SavedEdits("#b"); len(got) != 0 {
		t.Errorf("edit back to pre-session value retained: %+v", got)
	}
}

func TestStageBackToOriginalDropsDurableOnSave(t *testing.T) {
	s := New(nil)
	s.ToggleElement(ctxFor("#b"))
	s.MergeEdits("#b", []protocol.PendingEdit{{Property: "color", Value: "red", Original: "blue"}})

	e := s.OpenEditor("#b", map[string]string{"color": "red"})
	e.Stage("color", "blue")

	// Differs from the saved state even though it equals the original, so
	// it must count as unsaved and survive until Save drops the entry.
	if !e.HasUnsaved() {
		t.Fatal("return to pre-session value not staged")
	}
	e.Save()
	if got := s.SavedEdits("#b"); len(got) != 0 {
		t.Errorf("durable entry survived a saved round trip: %+v", got)
	}
}

func TestDiscardRevertsThenReappliesSaved(t *testing.T) {
	r := &recorder{}
	s := New(r.send)
	s.ToggleElement(ctxFor("#b"))
	s.MergeEdits("#b", []protocol.PendingEdit{{Property: "color", Value: "red", Original: "blue"}})

	e := s.OpenEditor("#b", map[string]string{"color": "red"})
	e.Stage("margin", "8px")

	mark := len(r.cmds)
	e.Discard()

	if e.HasUnsaved() {
		t.Fatal("discard left staged edits")
	}
	issued := r.cmds[mark:]
	if len(issued) != 2 {
		t.Fatalf("discard issued %d commands: %#v", len(issued), issued)
	}
	if rv, ok := issued[0].(protocol.RevertElement); !ok || rv.Selector != "#b" {
		t.Fatalf("first command %#v, want REVERT_ELEMENT{#b}", issued[0])
	}
	ae, ok := issued[1].(protocol.ApplyEdit)
	if !ok || ae.Property != "color" || ae.Value != "red" {
		t.Fatalf("second command %#v, want saved edit re-applied", issued[1])
	}
}
