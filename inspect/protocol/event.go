package protocol

// Event is an agent → host notification. Like commands, the set is closed
// and DecodeEvent is the single action → type mapping.
//
// Events are eventually-consistent snapshots, never acknowledgments: a
// command sent before an event carries no ordering relation to it.
type Event interface {
	Action() string
	isEvent()
}

// Event action strings.
const (
	ActionReady              = "READY"
	ActionElementSelected    = "ELEMENT_SELECTED"
	ActionScreenshotCaptured = "SCREENSHOT_CAPTURED"
	ActionScreenshotError    = "SCREENSHOT_ERROR"
	ActionRouteChanged       = "ROUTE_CHANGED"
	ActionComputedStyles     = "COMPUTED_STYLES"
	ActionEditApplied        = "EDIT_APPLIED"
	ActionEditsReverted      = "EDITS_REVERTED"
	ActionEditElementClicked = "EDIT_ELEMENT_CLICKED"
)

// Ready announces the agent after page load or reload. The host treats the
// latest Ready as session start and re-sends its desired mode.
type Ready struct {
	Version string `json:"version"`
}

// ElementSelected reports the delta element of a selection toggle. The host
// computes the resulting set itself; the agent never reports full-set state.
type ElementSelected struct {
	Element ElementContext `json:"element"`
}

// ScreenshotCaptured carries one encoded raster image as a data URL.
type ScreenshotCaptured struct {
	ImageData string `json:"imageData"`
	Region    *Rect  `json:"region,omitempty"`
	Selector  string `json:"selector,omitempty"`
}

// ScreenshotError reports a failed capture.
type ScreenshotError struct {
	Error string `json:"error"`
}

// RouteChanged reports the page's route and title.
type RouteChanged struct {
	Route string `json:"route"`
	Title string `json:"title,omitempty"`
}

// ComputedStyles answers GetComputedStyles. Styles is empty when the
// element no longer resolves; that is a legitimate miss, not an error.
type ComputedStyles struct {
	Selector string            `json:"selector"`
	Styles   map[string]string `json:"styles"`
}

// EditApplied confirms one applied edit.
type EditApplied struct {
	Selector string `json:"selector"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// EditsReverted reports a revert. Empty Selector means all elements.
type EditsReverted struct {
	Selector string `json:"selector,omitempty"`
}

// EditElementClicked signals a re-click on an already-selected element in
// edit mode: the host should open the property editor for it.
type EditElementClicked struct {
	Selector string `json:"selector"`
}

func (Ready) Action() string              { return ActionReady }
func (ElementSelected) Action() string    { return ActionElementSelected }
func (ScreenshotCaptured) Action() string { return ActionScreenshotCaptured }
func (ScreenshotError) Action() string    { return ActionScreenshotError }
func (RouteChanged) Action() string       { return ActionRouteChanged }
func (ComputedStyles) Action() string     { return ActionComputedStyles }
func (EditApplied) Action() string        { return ActionEditApplied }
func (EditsReverted) Action() string      { return ActionEditsReverted }
func (EditElementClicked) Action() string { return ActionEditElementClicked }

func (Ready) isEvent()              {}
func (ElementSelected) isEvent()    {}
func (ScreenshotCaptured) isEvent() {}
func (ScreenshotError) isEvent()    {}
func (RouteChanged) isEvent()       {}
func (ComputedStyles) isEvent()     {}
func (EditApplied) isEvent()        {}
func (EditsReverted) isEvent()      {}
func (EditElementClicked) isEvent() {}

// MarshalEvent wraps an event in the wire envelope.
func MarshalEvent(e Event) ([]byte, error) {
	return encode(TypeEvent, e.Action(), e)
}

// DecodeEvent parses an event envelope; see DecodeCommand for the error
// contract.
func DecodeEvent(data []byte) (Event, error) {
	env, err := decodeEnvelope(data, TypeEvent)
	if err != nil {
		return nil, err
	}

	switch env.Action {
	case ActionReady:
		var e Ready
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ActionElementSelected:
		var e ElementSelected
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ActionScreenshotCaptured:
		var e ScreenshotCaptured
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ActionScreenshotError:
		var e ScreenshotError
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ActionRouteChanged:
		var e RouteChanged
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ActionComputedStyles:
		var e ComputedStyles
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ActionEditApplied:
		var e EditApplied
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ActionEditsReverted:
		var e EditsReverted
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	case ActionEditElementClicked:
		var e EditElementClicked
		if err := decodePayload(env, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, ErrUnknownAction
	}
}
