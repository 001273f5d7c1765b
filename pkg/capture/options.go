package capture

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/root4loot/goutils/urlutil"
	"gopkg.in/yaml.v3"
)

const (
	DefaultURL          = "http://localhost:8890/fundanalyzer/v2/index"
	DefaultViewportPath = "fundanalyzer_v2_index.png"
	DefaultFullPagePath = "fundanalyzer_v2_index-full.png"

	EngineRod      = "rod"
	EngineChromedp = "chromedp"
)

// Options contains the browser and capture settings shared by every page.
type Options struct {
	Width                   int           `yaml:"width"`                     // Viewport width in logical pixels
	Height                  int           `yaml:"height"`                    // Viewport height in logical pixels
	Timeout                 time.Duration `yaml:"timeout"`                   // Upper bound for a whole capture
	Engine                  string        `yaml:"engine"`                    // rod or chromedp
	Headless                bool          `yaml:"headless"`                  // Run the browser without a window
	NoSandbox               bool          `yaml:"no_sandbox"`                // Disable the browser sandbox
	BrowserBin              string        `yaml:"browser_bin"`               // Browser executable, auto-detected when empty
	UserAgent               string        `yaml:"user_agent"`                // User agent override
	IgnoreCertificateErrors bool          `yaml:"ignore_certificate_errors"` // Ignore TLS certificate errors
	DisableHTTP2            bool          `yaml:"disable_http2"`             // Disable HTTP2
	DelayBeforeCapture      time.Duration `yaml:"delay_before_capture"`      // Wait after load before the first screenshot
	Imprint                 bool          `yaml:"imprint"`                   // Add the URL below each image
	CompareWithPrevious     bool          `yaml:"compare_with_previous"`     // Log similarity to the file being overwritten
}

// Target is a single page to capture and where its two images go.
type Target struct {
	URL          string `yaml:"url"`
	ViewportPath string `yaml:"viewport_path"`
	FullPagePath string `yaml:"full_page_path"`
}

// Config is the layout of a configuration file.
type Config struct {
	Options `yaml:",inline"`

	Concurrency int      `yaml:"concurrency"`
	Targets     []Target `yaml:"pages"`
}

// NewOptions returns Options initialized with default values.
func NewOptions() Options {
	return Options{
		Width:     1920,
		Height:    1080,
		Timeout:   30 * time.Second,
		Engine:    EngineRod,
		Headless:  true,
		NoSandbox: true,
	}
}

// DefaultTarget returns the fundanalyzer index page.
func DefaultTarget() Target {
	return Target{
		URL:          DefaultURL,
		ViewportPath: DefaultViewportPath,
		FullPagePath: DefaultFullPagePath,
	}
}

// NewConfig returns a Config with default options, one worker and the default target.
func NewConfig() Config {
	return Config{
		Options:     NewOptions(),
		Concurrency: 1,
		Targets:     []Target{DefaultTarget()},
	}
}

// Validate reports the first invalid option.
func (o Options) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", o.Width, o.Height)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("invalid timeout %v", o.Timeout)
	}
	if o.DelayBeforeCapture < 0 {
		return fmt.Errorf("invalid delay %v", o.DelayBeforeCapture)
	}
	switch o.Engine {
	case EngineRod, EngineChromedp:
	default:
		return fmt.Errorf("unknown engine %q", o.Engine)
	}
	return nil
}

// Validate checks that the target has an http(s) URL and both output paths.
func (t Target) Validate() error {
	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", t.URL, err)
	}
	if !urlutil.HasScheme(t.URL) || u.Host == "" {
		return fmt.Errorf("url %q is not absolute", t.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q: unsupported scheme %q", t.URL, u.Scheme)
	}
	if t.ViewportPath == "" || t.FullPagePath == "" {
		return fmt.Errorf("missing output path for %s", t.URL)
	}
	if t.ViewportPath == t.FullPagePath {
		return fmt.Errorf("viewport and full-page output for %s are the same file", t.URL)
	}
	return nil
}

// Validate checks options and every target. No two targets may write the
// same file.
func (c Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("invalid concurrency %d", c.Concurrency)
	}
	if len(c.Targets) == 0 {
		return errors.New("no pages configured")
	}
	written := make(map[string]string)
	for _, t := range c.Targets {
		if err := t.Validate(); err != nil {
			return err
		}
		for _, path := range []string{t.ViewportPath, t.FullPagePath} {
			path = filepath.Clean(path)
			if other, ok := written[path]; ok {
				return fmt.Errorf("%s and %s both write %s", other, t.URL, path)
			}
			written[path] = t.URL
		}
	}
	return nil
}

// LoadConfig reads a YAML file over NewConfig defaults. A file that lists
// pages replaces the default page.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := NewConfig()
	cfg.Targets = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = []Target{DefaultTarget()}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
