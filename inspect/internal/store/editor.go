package store

import "github.com/visualctx/vci/inspect/protocol"

// EditorSession is the per-element staging layer used while one element's
// properties are being tuned. Staged edits are live-previewed on the page
// immediately but stay ephemeral until Save merges them into the store's
// durable ledger; Discard rolls the page back to its saved state.
//
// A session belongs to the store's event-handling context and is not safe
// for concurrent use.
type EditorSession struct {
	store    *Store
	selector string
	baseline map[string]string

	staged []protocol.PendingEdit
}

// OpenEditor starts a session for selector. baseline carries the computed
// styles at open time, used as first-touch originals for properties the
// durable ledger has not seen.
func (s *Store) OpenEditor(selector string, baseline map[string]string) *EditorSession {
	if baseline == nil {
		baseline = map[string]string{}
	}
	return &EditorSession{store: s, selector: selector, baseline: baseline}
}

// original returns the pre-session value for property: a durable edit's
// recorded original wins over the opening baseline.
func (e *EditorSession) original(property string) string {
	for _, saved := range e.store.SavedEdits(e.selector) {
		if saved.Property == property {
			return saved.Original
		}
	}
	return e.baseline[property]
}

// current returns the value the page shows for property before anything
// was staged: a durable edit's value wins over the opening baseline.
func (e *EditorSession) current(property string) string {
	for _, saved := range e.store.SavedEdits(e.selector) {
		if saved.Property == property {
			return saved.Value
		}
	}
	return e.baseline[property]
}

// Stage records one property change and live-previews it on the page. A
// value equal to the saved state removes the staged entry instead of
// keeping a no-op, so HasUnsaved stays exact. A value that differs from
// the saved state always stages, even when it equals the pre-session
// original: Save must see it so the durable entry is dropped and the
// ledger keeps holding net effects.
func (e *EditorSession) Stage(property, value string) {
	cur := e.current(property)

	idx := -1
	for i := range e.staged {
		if e.staged[i].Property == property {
			idx = i
			break
		}
	}
	switch {
	case value == cur && idx >= 0:
		e.staged = append(e.staged[:idx], e.staged[idx+1:]...)
	case value == cur:
		// matches the saved state, nothing to stage
	case idx >= 0:
		e.staged[idx].Value = value
	default:
		e.staged = append(e.staged, protocol.PendingEdit{
			Property: property,
			Value:    value,
			Original: e.original(property),
		})
	}

	e.store.issue(protocol.ApplyEdit{Selector: e.selector, Property: property, Value: value})
}

// HasUnsaved reports whether any staged edit differs from its original.
func (e *EditorSession) HasUnsaved() bool {
	return len(e.staged) > 0
}

// Staged returns the staged edits in first-touch order.
func (e *EditorSession) Staged() []protocol.PendingEdit {
	out := make([]protocol.PendingEdit, len(e.staged))
	copy(out, e.staged)
	return out
}

// Save merges the staged edits into the durable ledger and empties the
// session. The page already shows the staged values, so no command goes
// out. Saving twice without new edits is idempotent.
func (e *EditorSession) Save() {
	if len(e.staged) > 0 {
		e.store.MergeEdits(e.selector, e.staged)
	}
	e.staged = nil
}

// Discard abandons the staged edits: the element is reverted on the page,
// then the durable saved edits are re-applied so the page lands back on
// its last saved state rather than the raw original.
func (e *EditorSession) Discard() {
	e.staged = nil
	e.store.issue(protocol.RevertElement{Selector: e.selector})
	for _, saved := range e.store.SavedEdits(e.selector) {
		e.store.issue(protocol.ApplyEdit{
			Selector: e.selector,
			Property: saved.Property,
			Value:    saved.Value,
		})
	}
}
