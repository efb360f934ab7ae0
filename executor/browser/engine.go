package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Engine abstracts the rendered-browser operations the executor needs.
// The chromedp-backed implementation is the only production engine; the
// seam exists so executor behavior is testable without a Chrome binary.
type Engine interface {
	// Navigate loads the given URL and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the selector matches a visible node or the
	// timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error

	// Fill types value into the node matched by selector.
	Fill(ctx context.Context, selector, value string) error

	// Click clicks the node matched by selector.
	Click(ctx context.Context, selector string) error

	// Text extracts the text content of the node matched by selector.
	Text(ctx context.Context, selector string) (string, error)

	// Screenshot captures the current viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close shuts the browser down, bounded by ctx.
	Close(ctx context.Context) error
}

// chromeEngine drives one headless Chrome process via chromedp.
type chromeEngine struct {
	browserCtx  context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// newChromeEngine starts a headless Chrome process and verifies it is
// responsive.
func newChromeEngine() (Engine, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(
		context.Background(), chromedp.DefaultExecAllocatorOptions[:]...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Running an empty task forces the browser to start now rather than
	// on the first navigation.
	startCtx, startCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start headless browser: %w", err)
	}

	return &chromeEngine{
		browserCtx:  browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
	}, nil
}

// run executes chromedp actions against the browser target, bounded by
// the deadline of op (if any). Actions must run on the engine's own
// context: it carries the browser target.
func (e *chromeEngine) run(op context.Context, actions ...chromedp.Action) error {
	runCtx := e.browserCtx
	if deadline, ok := op.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(e.browserCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (e *chromeEngine) Navigate(ctx context.Context, url string) error {
	return e.run(ctx, chromedp.Navigate(url))
}

func (e *chromeEngine) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (e *chromeEngine) Fill(ctx context.Context, selector, value string) error {
	return e.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery))
}

func (e *chromeEngine) Click(ctx context.Context, selector string) error {
	return e.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (e *chromeEngine) Text(ctx context.Context, selector string) (string, error) {
	var out string
	err := e.run(ctx, chromedp.Text(selector, &out, chromedp.ByQuery))
	return out, err
}

func (e *chromeEngine) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := e.run(ctx, chromedp.CaptureScreenshot(&buf))
	return buf, err
}

// Close cancels the browser context and waits for the process to exit,
// bounded by ctx.
func (e *chromeEngine) Close(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		// Cancelling the allocator blocks until the browser process has
		// been reaped.
		e.allocCancel()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser close: %w", ctx.Err())
	}
}
