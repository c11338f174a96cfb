package inspect

import (
	"context"
	"log/slog"

	"github.com/visualctx/vci/inspect/internal/raster"
)

// CaptureBrowser is a rod-driven page used as the raster and style
// backend of a session. Re-exported from internal.
type CaptureBrowser = raster.Browser

// CaptureTarget selects what a screenshot covers.
type CaptureTarget = raster.Target

// ConnectBrowser opens pageURL in a Chromium instance and returns a
// backend usable with WithRasterBackend and WithStyleBackend. remoteURL
// attaches to an existing browser's devtools endpoint; when empty a local
// one is launched, headless or not.
func ConnectBrowser(ctx context.Context, pageURL, remoteURL string, headless bool, log *slog.Logger) (*CaptureBrowser, error) {
	return raster.Connect(ctx, pageURL, raster.BrowserConfig{
		RemoteURL: remoteURL,
		Headless:  headless,
		Logger:    log,
	})
}
