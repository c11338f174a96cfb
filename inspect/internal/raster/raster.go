// Package raster defines the rendering-engine collaborator interfaces: the
// pieces of the session that need a real layout and paint pipeline rather
// than a parsed document. A browser-backed implementation lives alongside;
// everything else in the session treats these as opaque capabilities.
package raster

import (
	"context"

	"github.com/visualctx/vci/inspect/protocol"
)

// Target addresses what a capture covers. Zero value means the full page;
// Selector narrows to one element's subtree; Region clips to a rectangle in
// page coordinates.
type Target struct {
	Selector string
	Region   *protocol.Rect
}

// A Capturer renders a target to an encoded raster image, returned as a
// data URL. Failures are returned, not panicked: the caller converts them
// to a SCREENSHOT_ERROR event.
type Capturer interface {
	Capture(ctx context.Context, target Target) (dataURL string, err error)
}

// A StyleResolver reports the resolved computed styles of one element.
// A selector that no longer matches anything yields an empty map and no
// error: misses are legitimate, not failures.
type StyleResolver interface {
	ComputedStyles(ctx context.Context, selector string) (map[string]string, error)
}

// A Measurer reports an element's layout box in page coordinates. A miss
// yields the zero rect.
type Measurer interface {
	Measure(ctx context.Context, selector string) (protocol.Rect, error)
}
