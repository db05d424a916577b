package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultTimeout bounds a capture when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Options defines parameters for a Chromium-based screenshot capture.
type Options struct {
	// URL to capture.
	URL string

	// Width and Height are the viewport dimensions in pixels, normally the
	// rotated size of the panel. Both are required.
	Width  int
	Height int

	// WaitSelector, if set, is a CSS selector that must become visible
	// before the screenshot is taken, e.g. `[data-ready="true"]`. Empty
	// waits for the body.
	WaitSelector string

	// Settle is an extra delay after the page is ready to allow final
	// paints.
	Settle time.Duration

	// Timeout bounds the entire capture operation.
	Timeout time.Duration
}

func (o *Options) normalize() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("capture: invalid viewport %dx%d", o.Width, o.Height)
	}
	if o.WaitSelector == "" {
		o.WaitSelector = "body"
	}
	if o.Settle <= 0 {
		o.Settle = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// PNG launches a headless Chromium instance via chromedp, navigates to
// opts.URL, waits for opts.WaitSelector and returns a full-page PNG
// screenshot at the requested viewport.
func PNG(parentCtx context.Context, opts Options) ([]byte, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var buf []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(opts.WaitSelector, chromedp.ByQuery),
		chromedp.Sleep(opts.Settle),
		chromedp.FullScreenshot(&buf, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}
	return buf, nil
}

// Image captures opts.URL like PNG and decodes the screenshot.
func Image(ctx context.Context, opts Options) (image.Image, error) {
	data, err := PNG(ctx, opts)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("capture: decode screenshot: %w", err)
	}
	return img, nil
}
