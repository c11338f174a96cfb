package raster

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/visualctx/vci/inspect/protocol"
)

// BrowserConfig configures the capture browser.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headless controls the launched Chrome. Ignored for remote.
	Headless bool

	Logger *slog.Logger
}

// Browser owns one Chrome connection and the page rendering the inspected
// application. It implements Capturer, StyleResolver, and Measurer.
type Browser struct {
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher
	log     *slog.Logger
}

// Connect launches or attaches to Chrome and opens pageURL.
func Connect(ctx context.Context, pageURL string, cfg BrowserConfig) (*Browser, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Browser{log: cfg.Logger}

	wsURL := cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("raster: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		cfg.Logger.Info("raster: launched local chrome", "url", wsURL)
	} else {
		cfg.Logger.Info("raster: connecting to remote chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL).Context(ctx)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("raster: connect: %w", err)
	}
	if err := br.IgnoreCertErrors(true); err != nil {
		cfg.Logger.Warn("raster: ignore cert errors failed", "error", err)
	}
	b.browser = br

	page, err := stealth.Page(br)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("raster: create page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		b.Close()
		return nil, fmt.Errorf("raster: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("raster: wait load timeout", "url", pageURL, "error", err)
	}
	b.page = page
	return b, nil
}

// Capture renders the target to a PNG data URL.
func (b *Browser) Capture(ctx context.Context, target Target) (string, error) {
	page := b.page.Context(ctx)

	var raw []byte
	var err error
	switch {
	case target.Selector != "":
		var el *rod.Element
		el, err = page.Element(target.Selector)
		if err != nil {
			return "", fmt.Errorf("raster: element %s: %w", target.Selector, err)
		}
		raw, err = el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	case target.Region != nil:
		raw, err = page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
			Clip: &proto.PageViewport{
				X:      target.Region.X,
				Y:      target.Region.Y,
				Width:  target.Region.Width,
				Height: target.Region.Height,
				Scale:  1,
			},
		})
	default:
		raw, err = page.Screenshot(true, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
	}
	if err != nil {
		return "", fmt.Errorf("raster: screenshot: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw), nil
}

// ComputedStyles resolves an element's computed styles. A selector that no
// longer matches yields an empty map.
func (b *Browser) ComputedStyles(ctx context.Context, selector string) (map[string]string, error) {
	res, err := b.page.Context(ctx).Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (!el) return "{}";
		const cs = getComputedStyle(el);
		const out = {};
		for (const p of cs) out[p] = cs.getPropertyValue(p);
		return JSON.stringify(out);
	}`, selector)
	if err != nil {
		return nil, fmt.Errorf("raster: computed styles: %w", err)
	}
	styles := map[string]string{}
	if err := json.Unmarshal([]byte(res.Value.Str()), &styles); err != nil {
		return nil, fmt.Errorf("raster: parse styles: %w", err)
	}
	return styles, nil
}

// Measure reports an element's layout box. A miss yields the zero rect.
func (b *Browser) Measure(ctx context.Context, selector string) (protocol.Rect, error) {
	var rect protocol.Rect
	res, err := b.page.Context(ctx).Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (!el) return "{}";
		const r = el.getBoundingClientRect();
		return JSON.stringify({x: r.x, y: r.y, width: r.width, height: r.height,
			top: r.top, right: r.right, bottom: r.bottom, left: r.left});
	}`, selector)
	if err != nil {
		return rect, fmt.Errorf("raster: measure: %w", err)
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &rect); err != nil {
		return rect, fmt.Errorf("raster: parse rect: %w", err)
	}
	return rect, nil
}

// Close shuts down the page and, if launched locally, Chrome itself.
func (b *Browser) Close() error {
	if b.page != nil {
		if err := b.page.Close(); err != nil {
			b.log.Warn("raster: page close", "error", err)
		}
	}
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
	}
	return err
}
