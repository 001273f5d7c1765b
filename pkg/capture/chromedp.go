package capture

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/root4loot/goutils/log"
)

// ChromedpDriver launches Chromium through chromedp. Every browser-side call
// is bound to the context given to Launch.
type ChromedpDriver struct {
	options Options
}

func NewChromedpDriver(options Options) *ChromedpDriver {
	return &ChromedpDriver{options: options}
}

// allocatorOptions appends the configured flags to chromedp's defaults.
func (d *ChromedpDriver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts, chromedp.Flag("headless", d.options.Headless))

	if d.options.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	if d.options.BrowserBin != "" {
		opts = append(opts, chromedp.ExecPath(d.options.BrowserBin))
	}

	if d.options.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.options.UserAgent))
	}

	if d.options.IgnoreCertificateErrors {
		opts = append(opts, chromedp.IgnoreCertErrors)
	}

	if d.options.DisableHTTP2 {
		opts = append(opts, chromedp.Flag("disable-http2", true))
	}

	return opts
}

func (d *ChromedpDriver) Launch(ctx context.Context) (Session, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, d.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, err
	}

	s := &chromedpSession{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}
	log.Debugf("Browser (pid %d) started", s.PID())
	return s, nil
}

type chromedpSession struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewPage opens a new tab in the running browser.
func (s *chromedpSession) NewPage(_ context.Context) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(s.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, err
	}
	return &chromedpPage{ctx: tabCtx}, nil
}

func (s *chromedpSession) PID() int {
	c := chromedp.FromContext(s.browserCtx)
	if c == nil || c.Browser == nil || c.Browser.Process() == nil {
		return 0
	}
	return c.Browser.Process().Pid
}

// Close shuts the browser down gracefully and waits for the process to exit.
func (s *chromedpSession) Close() error {
	err := chromedp.Cancel(s.browserCtx)
	s.cancelBrowser()
	s.cancelAlloc()
	if err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}

type chromedpPage struct {
	ctx context.Context
}

// run executes actions on the tab, giving up when ctx ends first.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(p.ctx, actions...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *chromedpPage) SetViewport(ctx context.Context, width, height int) error {
	return p.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (p *chromedpPage) Viewport(ctx context.Context) (int, int, error) {
	var dims []int
	if err := p.run(ctx, chromedp.Evaluate(`[window.innerWidth, window.innerHeight]`, &dims)); err != nil {
		return 0, 0, err
	}
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("unexpected viewport value %v", dims)
	}
	return dims[0], dims[1], nil
}

// Navigate loads url; chromedp waits for the load event before returning.
func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Screenshot returns a PNG; quality 100 keeps FullScreenshot lossless.
func (p *chromedpPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := p.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}
