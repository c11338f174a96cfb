package agent

import "github.com/visualctx/vci/inspect/protocol"

// ledger tracks applied edits per selector, at most one entry per property,
// in first-touch order. The original value of a pair is snapshotted on first
// touch and never overwritten, so reverts always restore the pre-session
// value rather than an intermediate edit.
type ledger struct {
	edits map[string][]*protocol.PendingEdit
	order []string
}

func newLedger() *ledger {
	return &ledger{edits: make(map[string][]*protocol.PendingEdit)}
}

// record stages value for (selector, property). current is the DOM value at
// call time, used as the original only on first touch. An entry whose value
// lands back on its original is removed, never stored as a no-op.
func (l *ledger) record(selector, property, value, current string) {
	entries := l.edits[selector]
	for i, e := range entries {
		if e.Property != property {
			continue
		}
		if value == e.Original {
			entries = append(entries[:i], entries[i+1:]...)
			if len(entries) == 0 {
				l.drop(selector)
			} else {
				l.edits[selector] = entries
			}
			return
		}
		e.Value = value
		return
	}
	if value == current {
		return
	}
	if _, ok := l.edits[selector]; !ok {
		l.order = append(l.order, selector)
	}
	l.edits[selector] = append(l.edits[selector], &protocol.PendingEdit{
		Property: property,
		Value:    value,
		Original: current,
	})
}

// entries returns the staged edits for selector in first-touch order.
func (l *ledger) entries(selector string) []*protocol.PendingEdit {
	return l.edits[selector]
}

// selectors returns every tracked selector in first-touch order.
func (l *ledger) selectors() []string {
	return l.order
}

// drop removes all entries for selector.
func (l *ledger) drop(selector string) {
	if _, ok := l.edits[selector]; !ok {
		return
	}
	delete(l.edits, selector)
	for i, s := range l.order {
		if s == selector {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// clear removes every entry.
func (l *ledger) clear() {
	l.edits = make(map[string][]*protocol.PendingEdit)
	l.order = nil
}
