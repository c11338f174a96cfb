package protocol

// Rect is an element's border-box geometry in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// ElementContext is an immutable snapshot of one DOM element taken at
// selection time. It is never mutated afterwards; staged edits are tracked
// separately, keyed by Selector.
type ElementContext struct {
	TagName string   `json:"tagName"`
	ID      string   `json:"id,omitempty"`
	Classes []string `json:"classes,omitempty"`

	// Selector resolves, within the originating document, back to the
	// element this context was captured from (best-effort uniqueness).
	Selector string `json:"selector"`

	// HTML is the serialized outer markup, capped at MarkupByteLimit bytes
	// to bound message size.
	HTML string `json:"html,omitempty"`

	BoundingRect Rect `json:"boundingRect"`

	// Source location is best-effort instrumentation metadata; zero values
	// mean the page carried none.
	SourceFile    string `json:"sourceFile,omitempty"`
	SourceLine    int    `json:"sourceLine,omitempty"`
	ComponentName string `json:"componentName,omitempty"`
}

// MarkupByteLimit caps the serialized outer markup in an ElementContext.
const MarkupByteLimit = 2000

// PendingEdit is one staged style or content change for one selector.
// An edit whose Value equals Original is never retained: it is removed
// instead of stored as a no-op, which keeps "has unsaved changes" exact.
type PendingEdit struct {
	Property string `json:"property"`
	Value    string `json:"value"`
	Original string `json:"original"`
}

// UploadedImage is a design reference attached to the session, optionally
// linked to one selected element.
type UploadedImage struct {
	ID             string         `json:"id"`
	Filename       string         `json:"filename"`
	Dimensions     string         `json:"dimensions,omitempty"`
	DataURL        string         `json:"dataUrl,omitempty"`
	Description    string         `json:"description,omitempty"`
	LinkedSelector string         `json:"linkedElementSelector,omitempty"`
	VisionAnalysis map[string]any `json:"visionAnalysis,omitempty"`
}
