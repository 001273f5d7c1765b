package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	Init()
	os.Exit(m.Run())
}

func tempTarget(t *testing.T) Target {
	t.Helper()
	dir := t.TempDir()
	return Target{
		URL:          DefaultURL,
		ViewportPath: filepath.Join(dir, DefaultViewportPath),
		FullPagePath: filepath.Join(dir, DefaultFullPagePath),
	}
}

func newTestCapturer(driver Driver) *Capturer {
	return NewCapturerWithDriver(NewOptions(), driver, &LocalFilePersister{})
}

func TestCaptureSequence(t *testing.T) {
	driver := newFakeDriver(t)
	target := tempTarget(t)

	result, err := newTestCapturer(driver).Capture(context.Background(), target)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"launch",
		"newPage",
		"setViewport",
		"viewport",
		"navigate",
		"url",
		"screenshot",
		"fullScreenshot",
		"close",
	}, driver.Calls())

	assert.Equal(t, DefaultURL, result.LandingURL)
	assert.Equal(t, 1001, result.PID)
	assert.NoError(t, result.Error)
	assert.True(t, driver.ctxHasDeadline, "every browser call should be bounded by the timeout")

	viewport, err := os.ReadFile(target.ViewportPath)
	require.NoError(t, err)
	assert.Equal(t, driver.viewport, viewport)

	full, err := os.ReadFile(target.FullPagePath)
	require.NoError(t, err)
	assert.Equal(t, driver.fullPage, full)
}

func TestCaptureSetsViewportBeforeNavigate(t *testing.T) {
	driver := newFakeDriver(t)
	var page *fakePage

	capturer := newTestCapturer(&pageSpyDriver{fakeDriver: driver, onPage: func(p *fakePage) { page = p }})
	_, err := capturer.Capture(context.Background(), tempTarget(t))
	require.NoError(t, err)

	require.NotNil(t, page)
	assert.Equal(t, 1920, page.width)
	assert.Equal(t, 1080, page.height)

	calls := driver.Calls()
	assert.Less(t, indexOf(calls, "viewport"), indexOf(calls, "navigate"))
	assert.Less(t, indexOf(calls, "navigate"), indexOf(calls, "screenshot"))
	assert.Less(t, indexOf(calls, "screenshot"), indexOf(calls, "fullScreenshot"))
	assert.Equal(t, "close", calls[len(calls)-1])
}

func TestCaptureViewportMismatch(t *testing.T) {
	driver := newFakeDriver(t)
	driver.reported = &[2]int{800, 600}

	_, err := newTestCapturer(driver).Capture(context.Background(), tempTarget(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrViewportConfig)
	assert.NotContains(t, driver.Calls(), "navigate")
}

func TestCaptureFailureShortCircuits(t *testing.T) {
	tests := []struct {
		failOn   string
		sentinel error
		written  []bool // viewport, full page
	}{
		{"launch", ErrLaunch, []bool{false, false}},
		{"newPage", ErrPageCreation, []bool{false, false}},
		{"setViewport", ErrViewportConfig, []bool{false, false}},
		{"navigate", ErrNavigation, []bool{false, false}},
		{"screenshot", ErrScreenshot, []bool{false, false}},
		{"fullScreenshot", ErrScreenshot, []bool{true, false}},
	}

	for _, tt := range tests {
		t.Run(tt.failOn, func(t *testing.T) {
			driver := newFakeDriver(t)
			driver.failOn = tt.failOn
			target := tempTarget(t)

			result, err := newTestCapturer(driver).Capture(context.Background(), target)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.ErrorIs(t, err, errFake)
			assert.Equal(t, err, result.Error)

			calls := driver.Calls()
			assert.Equal(t, tt.failOn, calls[len(calls)-1-boolToInt(tt.failOn != "launch")])

			if tt.failOn == "launch" {
				assert.Equal(t, 0, driver.closed)
			} else {
				assert.Equal(t, 1, driver.closed, "session must be released after a failure")
			}

			assert.Equal(t, tt.written[0], fileExists(target.ViewportPath))
			assert.Equal(t, tt.written[1], fileExists(target.FullPagePath))
		})
	}
}

func TestCaptureNavigationFailureKeepsPreviousFiles(t *testing.T) {
	target := tempTarget(t)
	require.NoError(t, os.WriteFile(target.ViewportPath, []byte("old"), 0o644))

	driver := newFakeDriver(t)
	driver.failOn = "navigate"

	_, err := newTestCapturer(driver).Capture(context.Background(), target)
	require.ErrorIs(t, err, ErrNavigation)

	data, err := os.ReadFile(target.ViewportPath)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.False(t, fileExists(target.FullPagePath))
}

func TestCaptureCloseError(t *testing.T) {
	closeErr := errors.New("close failed")

	t.Run("reported after success", func(t *testing.T) {
		driver := newFakeDriver(t)
		driver.closeErr = closeErr

		result, err := newTestCapturer(driver).Capture(context.Background(), tempTarget(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrClose)
		assert.ErrorIs(t, err, closeErr)
		assert.Equal(t, err, result.Error)

		step, ok := FailedStep(err)
		assert.True(t, ok)
		assert.Equal(t, StepClose, step)
	})

	t.Run("earlier error wins", func(t *testing.T) {
		driver := newFakeDriver(t)
		driver.closeErr = closeErr
		driver.failOn = "navigate"

		_, err := newTestCapturer(driver).Capture(context.Background(), tempTarget(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNavigation)
		assert.NotErrorIs(t, err, ErrClose)
	})
}

func TestCaptureOverwrites(t *testing.T) {
	target := tempTarget(t)

	first := newFakeDriver(t)
	_, err := newTestCapturer(first).Capture(context.Background(), target)
	require.NoError(t, err)

	second := newFakeDriver(t)
	second.viewport = seededPNG(t, 160, 90, 2)
	second.fullPage = seededPNG(t, 160, 400, 3)
	_, err = newTestCapturer(second).Capture(context.Background(), target)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(target.ViewportPath))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	viewport, err := os.ReadFile(target.ViewportPath)
	require.NoError(t, err)
	assert.Equal(t, second.viewport, viewport)

	full, err := os.ReadFile(target.FullPagePath)
	require.NoError(t, err)
	assert.Equal(t, second.fullPage, full)
}

func TestCaptureTimeout(t *testing.T) {
	driver := newFakeDriver(t)
	options := NewOptions()
	options.Timeout = 50 * time.Millisecond
	options.DelayBeforeCapture = time.Second

	capturer := NewCapturerWithDriver(options, driver, &LocalFilePersister{})

	start := time.Now()
	_, err := capturer.Capture(context.Background(), tempTarget(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrScreenshot)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, driver.closed)
}

func TestCaptureCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := newFakeDriver(t)
	_, err := newTestCapturer(driver).Capture(ctx, tempTarget(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCaptureInvalidTarget(t *testing.T) {
	driver := newFakeDriver(t)
	_, err := newTestCapturer(driver).Capture(context.Background(), Target{URL: "localhost/index"})
	require.Error(t, err)
	assert.Empty(t, driver.Calls())
}

func TestCaptureImprint(t *testing.T) {
	driver := newFakeDriver(t)
	options := NewOptions()
	options.Imprint = true
	target := tempTarget(t)

	result, err := NewCapturerWithDriver(options, driver, &LocalFilePersister{}).Capture(context.Background(), target)
	require.NoError(t, err)

	_, h, err := result.Viewport.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, 90+imprintPadding*2+imprintBorder, h)

	written, err := os.ReadFile(target.ViewportPath)
	require.NoError(t, err)
	assert.Equal(t, []byte(result.Viewport), written)
}

func TestCaptureCompareWithPrevious(t *testing.T) {
	options := NewOptions()
	options.CompareWithPrevious = true
	target := tempTarget(t)

	first, err := NewCapturerWithDriver(options, newFakeDriver(t), &LocalFilePersister{}).Capture(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, -1, first.ViewportSimilarity, "nothing to compare on the first capture")
	assert.Equal(t, -1, first.FullPageSimilarity)

	second, err := NewCapturerWithDriver(options, newFakeDriver(t), &LocalFilePersister{}).Capture(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 100, second.ViewportSimilarity)
	assert.Equal(t, 100, second.FullPageSimilarity)

	changed := newFakeDriver(t)
	changed.viewport = seededPNG(t, 160, 90, 7)
	third, err := NewCapturerWithDriver(options, changed, &LocalFilePersister{}).Capture(context.Background(), target)
	require.NoError(t, err)
	assert.Less(t, third.ViewportSimilarity, 100)
	assert.Equal(t, 100, third.FullPageSimilarity)
}

func TestCaptureWithoutCompareLeavesSimilarityUnset(t *testing.T) {
	target := tempTarget(t)
	for i := 0; i < 2; i++ {
		result, err := newTestCapturer(newFakeDriver(t)).Capture(context.Background(), target)
		require.NoError(t, err)
		assert.Equal(t, -1, result.ViewportSimilarity)
	}
}

func TestNewCapturerRejectsInvalidOptions(t *testing.T) {
	options := NewOptions()
	options.Engine = "webkit"

	_, err := NewCapturer(options)
	assert.Error(t, err)
}

// pageSpyDriver hands out the page it creates to onPage.
type pageSpyDriver struct {
	*fakeDriver
	onPage func(*fakePage)
}

func (d *pageSpyDriver) Launch(ctx context.Context) (Session, error) {
	s, err := d.fakeDriver.Launch(ctx)
	if err != nil {
		return nil, err
	}
	return &pageSpySession{fakeSession: s.(*fakeSession), onPage: d.onPage}, nil
}

type pageSpySession struct {
	*fakeSession
	onPage func(*fakePage)
}

func (s *pageSpySession) NewPage(ctx context.Context) (Page, error) {
	p, err := s.fakeSession.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	s.onPage(p.(*fakePage))
	return p, nil
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
