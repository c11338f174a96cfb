package protocol

// Command is a host → agent instruction. The set is closed: every command
// the protocol knows is a struct in this file, and DecodeCommand is the
// single place that maps action strings to types.
type Command interface {
	Action() string
	isCommand()
}

// Command action strings.
const (
	ActionSetMode           = "SET_MODE"
	ActionCaptureScreenshot = "CAPTURE_SCREENSHOT"
	ActionCaptureElement    = "CAPTURE_ELEMENT"
	ActionClearSelection    = "CLEAR_SELECTION"
	ActionGetRoute          = "GET_ROUTE"
	ActionApplyEdit         = "APPLY_EDIT"
	ActionRevertEdits       = "REVERT_EDITS"
	ActionRevertElement     = "REVERT_ELEMENT"
	ActionGetComputedStyles = "GET_COMPUTED_STYLES"
)

// SetMode switches the agent's applied mode. Idempotent.
type SetMode struct {
	Mode Mode `json:"mode"`
}

// CaptureScreenshot requests a raster capture of the full page, of a
// drag-rectangle region, or of one selector-addressed subtree.
type CaptureScreenshot struct {
	Region   *Rect  `json:"region,omitempty"`
	Selector string `json:"selector,omitempty"`
}

// CaptureElement asks the agent to re-capture and re-announce every element
// currently in its local selection (fresh contexts for stale hosts).
type CaptureElement struct{}

// ClearSelection empties the agent's local selection and removes all
// selection highlight boxes. Idempotent.
type ClearSelection struct{}

// GetRoute asks the agent to report the page's current route and title.
type GetRoute struct{}

// ApplyEdit stages one style or content change on one element.
type ApplyEdit struct {
	Selector string `json:"selector"`
	Property string `json:"property"`
	Value    string `json:"value"`
}

// RevertEdits restores every tracked (selector, property) pair to its
// first-recorded original and clears the agent ledger.
type RevertEdits struct{}

// RevertElement does the same scoped to one selector.
type RevertElement struct {
	Selector string `json:"selector"`
}

// GetComputedStyles asks for the resolved styles of one element.
type GetComputedStyles struct {
	Selector string `json:"selector"`
}

func (SetMode) Action() string           { return ActionSetMode }
func (CaptureScreenshot) Action() string { return ActionCaptureScreenshot }
func (CaptureElement) Action() string    { return ActionCaptureElement }
func (ClearSelection) Action() string    { return ActionClearSelection }
func (GetRoute) Action() string          { return ActionGetRoute }
func (ApplyEdit) Action() string         { return ActionApplyEdit }
func (RevertEdits) Action() string       { return ActionRevertEdits }
func (RevertElement) Action() string     { return ActionRevertElement }
func (GetComputedStyles) Action() string { return ActionGetComputedStyles }

func (SetMode) isCommand()           {}
func (CaptureScreenshot) isCommand() {}
func (CaptureElement) isCommand()    {}
func (ClearSelection) isCommand()    {}
func (GetRoute) isCommand()          {}
func (ApplyEdit) isCommand()         {}
func (RevertEdits) isCommand()       {}
func (RevertElement) isCommand()     {}
func (GetComputedStyles) isCommand() {}

// MarshalCommand wraps a command in the wire envelope.
func MarshalCommand(c Command) ([]byte, error) {
	return encode(TypeCommand, c.Action(), c)
}

// DecodeCommand parses a command envelope. Unknown actions return
// ErrUnknownAction; payloads that do not parse for a known action return an
// error too. Both are handled by receivers as silent no-ops.
func DecodeCommand(data []byte) (Command, error) {
	env, err := decodeEnvelope(data, TypeCommand)
	if err != nil {
		return nil, err
	}

	switch env.Action {
	case ActionSetMode:
		var c SetMode
		if err := decodePayload(env, &c); err != nil {
			return nil, err
		}
		return c, nil
	case ActionCaptureScreenshot:
		var c CaptureScreenshot
		if err := decodePayload(env, &c); err != nil {
			return nil, err
		}
		return c, nil
	case ActionCaptureElement:
		return CaptureElement{}, nil
	case ActionClearSelection:
		return ClearSelection{}, nil
	case ActionGetRoute:
		return GetRoute{}, nil
	case ActionApplyEdit:
		var c ApplyEdit
		if err := decodePayload(env, &c); err != nil {
			return nil, err
		}
		return c, nil
	case ActionRevertEdits:
		return RevertEdits{}, nil
	case ActionRevertElement:
		var c RevertElement
		if err := decodePayload(env, &c); err != nil {
			return nil, err
		}
		return c, nil
	case ActionGetComputedStyles:
		var c GetComputedStyles
		if err := decodePayload(env, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, ErrUnknownAction
	}
}
