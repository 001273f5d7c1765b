package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/root4loot/goutils/log"
)

// Capturer takes a viewport and a full-page screenshot of a target, each
// capture in its own browser session.
type Capturer struct {
	Options   Options
	driver    Driver
	persister FilePersister
}

// Result contains the outcome of a capture. Fields are filled up to the
// step that failed.
type Result struct {
	Target     Target
	LandingURL string
	Viewport   Image
	FullPage   Image
	PID        int
	Error      error

	// Similarity to the files being replaced, -1 when not compared.
	ViewportSimilarity int
	FullPageSimilarity int
}

// Init sets up the package logger.
func Init() {
	log.Init("pagecapture")
	log.SetLevel(log.InfoLevel)
}

// SetDebug enables or disables debug logging.
func SetDebug(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// NewCapturer creates a Capturer for options.Engine that writes to the local disk.
func NewCapturer(options Options) (*Capturer, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	driver, err := NewDriver(options)
	if err != nil {
		return nil, err
	}
	return NewCapturerWithDriver(options, driver, &LocalFilePersister{}), nil
}

// NewCapturerWithDriver creates a Capturer with an explicit driver and persister.
func NewCapturerWithDriver(options Options, driver Driver, persister FilePersister) *Capturer {
	return &Capturer{
		Options:   options,
		driver:    driver,
		persister: persister,
	}
}

// Capture runs launch, open page, set viewport, navigate, viewport screenshot,
// full-page screenshot and close, in that order. The first failing step
// aborts the rest. Once launched, the session is closed on every path.
func (c *Capturer) Capture(ctx context.Context, target Target) (result *Result, err error) {
	result = &Result{Target: target, ViewportSimilarity: -1, FullPageSimilarity: -1}
	defer func() { result.Error = err }()

	if err = target.Validate(); err != nil {
		return result, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.Options.Timeout)
	defer cancel()

	log.Debugf("Launching %s browser for %s", c.Options.Engine, target.URL)

	session, err := c.driver.Launch(ctx)
	if err != nil {
		return result, newStepError(StepLaunch, target.URL, err)
	}
	result.PID = session.PID()

	defer func() {
		cerr := session.Close()
		switch {
		case cerr == nil:
			log.Debugf("Browser (pid %d) closed", result.PID)
		case err == nil:
			err = newStepError(StepClose, target.URL, cerr)
		default:
			log.Warnf("Could not close browser (pid %d) after failure: %v", result.PID, cerr)
		}
	}()

	page, err := session.NewPage(ctx)
	if err != nil {
		return result, newStepError(StepOpenPage, target.URL, err)
	}

	if err = c.setViewport(ctx, page); err != nil {
		return result, newStepError(StepViewport, target.URL, err)
	}

	log.Debugf("Navigating to %s", target.URL)
	if err = page.Navigate(ctx, target.URL); err != nil {
		return result, newStepError(StepNavigate, target.URL, err)
	}

	if landing, uerr := page.URL(ctx); uerr != nil {
		log.Warnf("Could not read landing URL for %s: %v", target.URL, uerr)
	} else {
		result.LandingURL = landing
	}

	if c.Options.DelayBeforeCapture > 0 {
		if err = sleep(ctx, c.Options.DelayBeforeCapture); err != nil {
			return result, newStepError(StepScreenshot, target.URL, err)
		}
	}

	result.Viewport, result.ViewportSimilarity, err = c.screenshot(ctx, page, target, false)
	if err != nil {
		return result, newStepError(StepScreenshot, target.URL, err)
	}

	result.FullPage, result.FullPageSimilarity, err = c.screenshot(ctx, page, target, true)
	if err != nil {
		return result, newStepError(StepScreenshot, target.URL, err)
	}

	return result, nil
}

func (c *Capturer) setViewport(ctx context.Context, page Page) error {
	if err := page.SetViewport(ctx, c.Options.Width, c.Options.Height); err != nil {
		return err
	}

	width, height, err := page.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("reading viewport: %w", err)
	}
	if width != c.Options.Width || height != c.Options.Height {
		return fmt.Errorf("viewport is %dx%d, want %dx%d", width, height, c.Options.Width, c.Options.Height)
	}

	log.Debugf("Viewport set to %dx%d", width, height)
	return nil
}

// screenshot captures the page and writes it before returning, so the next
// capture never starts ahead of the previous file. The score is -1 unless
// the image was compared with the file it replaces.
func (c *Capturer) screenshot(ctx context.Context, page Page, target Target, fullPage bool) (Image, int, error) {
	path := target.ViewportPath
	if fullPage {
		path = target.FullPagePath
	}

	data, err := page.Screenshot(ctx, fullPage)
	if err != nil {
		return nil, -1, err
	}
	img := Image(data)

	if c.Options.Imprint {
		img, err = img.AddTextToImage(target.URL)
		if err != nil {
			return nil, -1, err
		}
	}

	score := -1
	if c.Options.CompareWithPrevious {
		score = c.compareWithPrevious(path, img)
	}

	if err := c.persister.Persist(ctx, path, bytes.NewReader(img)); err != nil {
		return nil, -1, err
	}

	if w, h, err := img.Dimensions(); err == nil {
		log.Debugf("%s is %dx%d", path, w, h)
	}
	log.Resultf("Screenshot saved to %s", path)

	return img, score, nil
}

func (c *Capturer) compareWithPrevious(path string, img Image) int {
	previous, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return -1
	}
	if err != nil {
		log.Warnf("Could not read previous capture %s: %v", path, err)
		return -1
	}

	score, err := img.Similarity(previous)
	if err != nil {
		log.Debugf("Could not compare %s with previous capture: %v", path, err)
		return -1
	}
	log.Resultf("%s is %d%% similar to the previous capture", path, score)
	return score
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
