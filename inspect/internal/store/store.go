// Package store implements the host half of the inspection session: the
// source of truth for selection, prompts, saved edits, uploaded images, and
// mode as the user perceives them. It issues commands and consumes events;
// the agent's local state is treated as eventually consistent with it.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/visualctx/vci/inspect/protocol"
)

// Store owns the canonical session state. All methods are safe for
// concurrent use; every mutation is atomic under one mutex, mirroring the
// single-threaded turn model the protocol assumes.
type Store struct {
	send func(protocol.Command)
	log  *slog.Logger

	mu        sync.Mutex
	selection []protocol.ElementContext
	prompts   map[string]string
	edits     map[string][]protocol.PendingEdit
	images    []protocol.UploadedImage
	styles    map[string]map[string]string

	// ELEMENT_SELECTED re-announcements still owed from a recapture
	// request; these fold in place instead of toggling.
	recapturePending int

	mode        protocol.Mode // desired; the agent's applied mode trails it
	sidebarOpen bool
	reloadSeq   int
	clearSeq    int

	route string
	title string

	agentReady   bool
	agentVersion string

	// selector the agent asked to open an editor for; consumed by the UI
	editorRequest string

	instruction string

	notice      *Notice
	noticeTimer *time.Timer
	noticeTTL   time.Duration
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithNoticeTTL overrides the notice auto-dismiss delay.
func WithNoticeTTL(d time.Duration) Option {
	return func(s *Store) { s.noticeTTL = d }
}

// New builds a store. send carries outbound commands; a nil send discards
// them, which suits tests and detached sessions.
func New(send func(protocol.Command), opts ...Option) *Store {
	s := &Store{
		send:      send,
		log:       slog.Default(),
		prompts:   make(map[string]string),
		edits:     make(map[string][]protocol.PendingEdit),
		styles:    make(map[string]map[string]string),
		mode:      protocol.ModeInteraction,
		noticeTTL: noticeDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) issue(cmd protocol.Command) {
	if s.send != nil {
		s.send(cmd)
	}
}

// HandleEvent folds one agent event into the canonical state.
func (s *Store) HandleEvent(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.Ready:
		s.handleReady(e)
	case protocol.ElementSelected:
		if !s.refreshIfRecapture(e.Element) {
			s.ToggleElement(e.Element)
		}
	case protocol.RouteChanged:
		s.mu.Lock()
		s.route, s.title = e.Route, e.Title
		s.mu.Unlock()
	case protocol.ComputedStyles:
		s.mu.Lock()
		s.styles[e.Selector] = e.Styles
		s.mu.Unlock()
	case protocol.EditElementClicked:
		s.mu.Lock()
		s.editorRequest = e.Selector
		s.mu.Unlock()
	case protocol.ScreenshotError:
		s.mu.Lock()
		s.setNotice("Screenshot failed: " + e.Error)
		s.mu.Unlock()
	case protocol.EditApplied, protocol.EditsReverted, protocol.ScreenshotCaptured:
		// Live-preview traffic; the durable state changes only on save.
	default:
		s.log.Debug("store: unhandled event", "action", ev.Action())
	}
}

// handleReady treats the latest READY as session start: the page reloaded
// and the agent lost all local state, so the desired mode is re-sent.
func (s *Store) handleReady(e protocol.Ready) {
	s.mu.Lock()
	s.agentReady = true
	s.agentVersion = e.Version
	mode := s.mode
	s.mu.Unlock()
	s.issue(protocol.SetMode{Mode: mode})
}

// SetMode records the desired mode and tells the agent. Repeats are sent
// anyway: SET_MODE is idempotent and the agent may have missed one.
func (s *Store) SetMode(m protocol.Mode) {
	if !m.Valid() {
		return
	}
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
	s.issue(protocol.SetMode{Mode: m})
}

func (s *Store) Mode() protocol.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ToggleElement adds ctx to the selection, or removes it if an entry with
// the same selector is already present. Removal transactionally drops all
// selector-keyed side state. An add past the cap is a rejected no-op with
// a notice.
func (s *Store) ToggleElement(ctx protocol.ElementContext) {
	if ctx.Selector == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.selection {
		if c.Selector == ctx.Selector {
			s.selection = append(s.selection[:i], s.selection[i+1:]...)
			s.cleanupLocked(ctx.Selector)
			return
		}
	}
	if len(s.selection) >= protocol.MaxSelected {
		s.setNotice("Selection limit reached (10 elements)")
		return
	}
	s.selection = append(s.selection, ctx)
}

// RequestRecapture asks the agent to re-announce every selected element
// with a fresh context. The answers arrive as ELEMENT_SELECTED and are
// folded into the selection in place; with nothing selected the request
// is a no-op.
func (s *Store) RequestRecapture() {
	s.mu.Lock()
	n := len(s.selection)
	s.recapturePending += n
	s.mu.Unlock()
	if n == 0 {
		return
	}
	s.issue(protocol.CaptureElement{})
}

// refreshIfRecapture consumes one owed recapture announcement: a matching
// selection entry is replaced in place, an entry removed since the request
// is dropped. The counter drains through channel ordering alone, so a
// clear issued after the request cannot strand it.
func (s *Store) refreshIfRecapture(ctx protocol.ElementContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recapturePending == 0 {
		return false
	}
	s.recapturePending--
	for i := range s.selection {
		if s.selection[i].Selector == ctx.Selector {
			s.selection[i] = ctx
			break
		}
	}
	return true
}

// RemoveElement removes one selection entry by selector, with the same
// side-state cleanup as a toggle-off.
func (s *Store) RemoveElement(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.selection {
		if c.Selector == selector {
			s.selection = append(s.selection[:i], s.selection[i+1:]...)
			s.cleanupLocked(selector)
			return
		}
	}
}

// SetSelectedElements replaces the whole selection. Side state of entries
// not in the new set is dropped; the cap applies to the new set.
func (s *Store) SetSelectedElements(ctxs []protocol.ElementContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ctxs) > protocol.MaxSelected {
		s.setNotice("Selection limit reached (10 elements)")
		return
	}

	keep := make(map[string]bool, len(ctxs))
	var next []protocol.ElementContext
	for _, c := range ctxs {
		if c.Selector == "" || keep[c.Selector] {
			continue
		}
		keep[c.Selector] = true
		next = append(next, c)
	}
	for _, c := range s.selection {
		if !keep[c.Selector] {
			s.cleanupLocked(c.Selector)
		}
	}
	s.selection = next
}

// ClearSelection empties the selection and its side state, and tells the
// agent to drop its visuals. Safe to repeat.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	for _, c := range s.selection {
		s.cleanupLocked(c.Selector)
	}
	s.selection = nil
	s.clearSeq++
	s.mu.Unlock()
	s.issue(protocol.ClearSelection{})
}

// Reset returns the whole session to its initial state, keeping only the
// agent liveness fields.
func (s *Store) Reset() {
	s.mu.Lock()
	s.selection = nil
	s.prompts = make(map[string]string)
	s.edits = make(map[string][]protocol.PendingEdit)
	s.images = nil
	s.styles = make(map[string]map[string]string)
	s.instruction = ""
	s.editorRequest = ""
	s.clearSeq++
	s.mu.Unlock()
	s.issue(protocol.ClearSelection{})
	s.issue(protocol.RevertEdits{})
}

// cleanupLocked drops every piece of side state keyed by selector: prompt,
// saved edits, cached styles, and image links. No orphaned per-selector
// entry may survive a removal, whichever path removed it.
func (s *Store) cleanupLocked(selector string) {
	delete(s.prompts, selector)
	delete(s.edits, selector)
	delete(s.styles, selector)
	for i := range s.images {
		if s.images[i].LinkedSelector == selector {
			s.images[i].LinkedSelector = ""
		}
	}
}

// Selection returns the ordered selection.
func (s *Store) Selection() []protocol.ElementContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ElementContext, len(s.selection))
	copy(out, s.selection)
	return out
}

// SetPrompt attaches free-text instructions to one selected element. An
// empty prompt removes the entry.
func (s *Store) SetPrompt(selector, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.prompts, selector)
		return
	}
	s.prompts[selector] = text
}

func (s *Store) Prompt(selector string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[selector]
}

// SetInstruction sets the top-level free-text instruction.
func (s *Store) SetInstruction(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruction = text
}

// AddImage appends an uploaded image. Past the cap the add is a rejected
// no-op with a notice.
func (s *Store) AddImage(img protocol.UploadedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.images) >= protocol.MaxUploadedImages {
		s.setNotice("Upload limit reached (5 images)")
		return
	}
	s.images = append(s.images, img)
}

// LinkImage attaches an uploaded image to one selected element. Linking to
// an unselected element is refused.
func (s *Store) LinkImage(id, selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if selector != "" {
		found := false
		for _, c := range s.selection {
			if c.Selector == selector {
				found = true
				break
			}
		}
		if !found {
			return
		}
	}
	for i := range s.images {
		if s.images[i].ID == id {
			s.images[i].LinkedSelector = selector
			return
		}
	}
}

// RemoveImage deletes an uploaded image by id.
func (s *Store) RemoveImage(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.images {
		if s.images[i].ID == id {
			s.images = append(s.images[:i], s.images[i+1:]...)
			return
		}
	}
}

// Images returns the uploaded images in upload order.
func (s *Store) Images() []protocol.UploadedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.UploadedImage, len(s.images))
	copy(out, s.images)
	return out
}

// MergeEdits folds staged edits for selector into the durable ledger,
// keyed by (selector, property), incoming value winning. Entries whose
// value equals their original are dropped: the ledger holds net effects,
// not history. Merging the same edits twice is idempotent.
func (s *Store) MergeEdits(selector string, incoming []protocol.PendingEdit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.edits[selector]
	for _, in := range incoming {
		found := false
		for i := range merged {
			if merged[i].Property == in.Property {
				merged[i].Value = in.Value
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, in)
		}
	}
	var net []protocol.PendingEdit
	for _, e := range merged {
		if e.Value != e.Original {
			net = append(net, e)
		}
	}
	if len(net) == 0 {
		delete(s.edits, selector)
		return
	}
	s.edits[selector] = net
}

// SavedEdits returns the durable net edits for selector.
func (s *Store) SavedEdits(selector string) []protocol.PendingEdit {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.PendingEdit, len(s.edits[selector]))
	copy(out, s.edits[selector])
	return out
}

// ComputedStyles returns the last styles the agent reported for selector.
func (s *Store) ComputedStyles(selector string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.styles[selector]
}

// TakeEditorRequest consumes the selector the agent asked to open an
// editor for, if any.
func (s *Store) TakeEditorRequest() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editorRequest == "" {
		return "", false
	}
	sel := s.editorRequest
	s.editorRequest = ""
	return sel, true
}

// ToggleSidebar flips sidebar visibility.
func (s *Store) ToggleSidebar() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sidebarOpen = !s.sidebarOpen
}

func (s *Store) SidebarOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sidebarOpen
}

// BumpReload increments the reload sequence, forcing dependent views to
// re-synchronize without an imperative call into them.
func (s *Store) BumpReload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadSeq++
}

// Seq returns the reload and clear sequence counters.
func (s *Store) Seq() (reload, clear int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadSeq, s.clearSeq
}

// Route returns the last route and title the agent reported.
func (s *Store) Route() (route, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route, s.title
}

// AgentReady reports whether a READY has been seen, and its version.
func (s *Store) AgentReady() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentReady, s.agentVersion
}
