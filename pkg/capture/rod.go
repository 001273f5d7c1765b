package capture

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/root4loot/goutils/log"
)

// RodDriver launches Chromium through go-rod.
type RodDriver struct {
	options Options
}

func NewRodDriver(options Options) *RodDriver {
	return &RodDriver{options: options}
}

// Launch starts a browser and connects to it. A browser binary is looked up
// on the system when none is configured; rod downloads one as a last resort.
func (d *RodDriver) Launch(ctx context.Context) (Session, error) {
	l := launcher.New().
		Context(ctx).
		Headless(d.options.Headless).
		NoSandbox(d.options.NoSandbox)

	bin := d.options.BrowserBin
	if bin == "" {
		bin, _ = launcher.LookPath()
	}
	if bin != "" {
		l.Bin(bin)
	}

	if d.options.UserAgent != "" {
		l.Set("user-agent", d.options.UserAgent)
	}

	if d.options.IgnoreCertificateErrors {
		l.Set("ignore-certificate-errors")
	}

	if d.options.DisableHTTP2 {
		l.Set("disable-http2")
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, err
	}
	log.Debugf("Browser (pid %d) listening on %s", l.PID(), controlURL)

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	return &rodSession{launcher: l, browser: browser}, nil
}

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func (s *rodSession) NewPage(ctx context.Context) (Page, error) {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	return &rodPage{page: page}, nil
}

func (s *rodSession) PID() int {
	return s.launcher.PID()
}

// Close asks the browser to exit, then makes sure the process is gone and
// its profile directory removed.
func (s *rodSession) Close() error {
	err := s.browser.Close()
	if err != nil {
		s.launcher.Kill()
	}
	s.launcher.Cleanup()
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
}

func (p *rodPage) Viewport(ctx context.Context) (int, int, error) {
	obj, err := p.page.Context(ctx).Eval(`() => [window.innerWidth, window.innerHeight]`)
	if err != nil {
		return 0, 0, err
	}
	dims := obj.Value.Arr()
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("unexpected viewport value %s", obj.Value.JSON("", ""))
	}
	return dims[0].Int(), dims[1].Int(), nil
}

// Navigate loads url and waits for the load event.
func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(fullPage, nil)
}
