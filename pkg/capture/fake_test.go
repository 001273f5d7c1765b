package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"sync"
	"testing"
)

// fakeDriver records every browser call in order and fails the call named
// in failOn.
type fakeDriver struct {
	mu    sync.Mutex
	calls []string

	failOn   string
	closeErr error
	// reported overrides the viewport the page reports back.
	reported *[2]int

	viewport []byte
	fullPage []byte

	sessions int
	closed   int
	// ctxHasDeadline is true when every call received a context with a deadline.
	ctxHasDeadline bool
}

var errFake = errors.New("fake failure")

func newFakeDriver(t *testing.T) *fakeDriver {
	t.Helper()
	return &fakeDriver{
		viewport:       testPNG(t, 160, 90),
		fullPage:       testPNG(t, 160, 400),
		ctxHasDeadline: true,
	}
}

func (d *fakeDriver) record(ctx context.Context, call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if _, ok := ctx.Deadline(); !ok {
		d.ctxHasDeadline = false
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.failOn == call {
		return errFake
	}
	return nil
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) Launch(ctx context.Context) (Session, error) {
	if err := d.record(ctx, "launch"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.sessions++
	pid := 1000 + d.sessions
	d.mu.Unlock()
	return &fakeSession{driver: d, pid: pid}, nil
}

type fakeSession struct {
	driver *fakeDriver
	pid    int
	closed bool
}

func (s *fakeSession) NewPage(ctx context.Context) (Page, error) {
	if s.closed {
		return nil, errors.New("session closed")
	}
	if err := s.driver.record(ctx, "newPage"); err != nil {
		return nil, err
	}
	return &fakePage{session: s}, nil
}

func (s *fakeSession) PID() int { return s.pid }

func (s *fakeSession) Close() error {
	s.closed = true
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	s.driver.calls = append(s.driver.calls, "close")
	s.driver.closed++
	return s.driver.closeErr
}

type fakePage struct {
	session       *fakeSession
	width, height int
	url           string
}

func (p *fakePage) check(ctx context.Context, call string) error {
	if p.session.closed {
		return fmt.Errorf("%s on closed session", call)
	}
	return p.session.driver.record(ctx, call)
}

func (p *fakePage) SetViewport(ctx context.Context, width, height int) error {
	if err := p.check(ctx, "setViewport"); err != nil {
		return err
	}
	p.width, p.height = width, height
	return nil
}

func (p *fakePage) Viewport(ctx context.Context) (int, int, error) {
	if err := p.check(ctx, "viewport"); err != nil {
		return 0, 0, err
	}
	if r := p.session.driver.reported; r != nil {
		return r[0], r[1], nil
	}
	return p.width, p.height, nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := p.check(ctx, "navigate"); err != nil {
		return err
	}
	p.url = url
	return nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	if err := p.check(ctx, "url"); err != nil {
		return "", err
	}
	return p.url, nil
}

func (p *fakePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	call := "screenshot"
	if fullPage {
		call = "fullScreenshot"
	}
	if err := p.check(ctx, call); err != nil {
		return nil, err
	}
	if fullPage {
		return p.session.driver.fullPage, nil
	}
	return p.session.driver.viewport, nil
}

// testPNG encodes a noisy image so it is large enough to fuzzy hash.
func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	return seededPNG(t, width, height, 1)
}

func seededPNG(t *testing.T, width, height int, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(x), uint8(y), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}
