package capture

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/root4loot/goutils/log"
)

// Runner captures several targets, each in its own browser session.
type Runner struct {
	Capturer    *Capturer
	Concurrency int
}

// NewRunner returns a Runner that captures one target at a time.
func NewRunner(capturer *Capturer) *Runner {
	return &Runner{Capturer: capturer, Concurrency: 1}
}

// Run captures all targets and returns their results in input order.
func (r *Runner) Run(ctx context.Context, targets ...Target) []Result {
	results := make([]Result, len(targets))

	sem := make(chan struct{}, r.concurrency())
	var wg sync.WaitGroup
	for i, target := range targets {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, t Target) {
			defer func() { <-sem }()
			defer wg.Done()
			results[i] = r.capture(ctx, t)
		}(i, target)
	}
	wg.Wait()

	return results
}

// RunStream captures all targets and sends each result as it completes.
// resultsChan is closed when every target is done.
func (r *Runner) RunStream(ctx context.Context, resultsChan chan<- Result, targets ...Target) {
	defer close(resultsChan)

	sem := make(chan struct{}, r.concurrency())
	var wg sync.WaitGroup
	for _, target := range targets {
		sem <- struct{}{}
		wg.Add(1)
		go func(t Target) {
			defer func() { <-sem }()
			defer wg.Done()
			resultsChan <- r.capture(ctx, t)
		}(target)
	}
	wg.Wait()
}

func (r *Runner) capture(ctx context.Context, t Target) Result {
	result, err := r.Capturer.Capture(ctx, t)
	if err != nil {
		log.Errorf("Error capturing %s: %v", t.URL, err)
	}
	return *result
}

func (r *Runner) concurrency() int {
	if r.Concurrency < 1 {
		return 1
	}
	return r.Concurrency
}

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// TargetFromURL builds a target whose images are named after the URL, e.g.
// http://localhost:8890/fundanalyzer/v2/index becomes
// http_localhost-8890_fundanalyzer_v2_index.png and ..._index-full.png in folder.
// The query is part of the name; the fragment is not.
func TargetFromURL(rawURL, folder string) (Target, error) {
	rawURL = strings.TrimSpace(rawURL)

	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return Target{}, fmt.Errorf("invalid URL %q", rawURL)
	}

	host := u.Host
	if (u.Scheme == "http" && u.Port() == "80") || (u.Scheme == "https" && u.Port() == "443") {
		host = u.Hostname()
	}

	name := u.Scheme + "_" + host + u.Path
	name = strings.TrimSuffix(name, "/")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, ":", "-")
	name = strings.ToLower(name)
	if u.RawQuery != "" {
		name += "_" + strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(u.RawQuery), "-"), "-")
	}

	return Target{
		URL:          rawURL,
		ViewportPath: filepath.Join(folder, name+".png"),
		FullPagePath: filepath.Join(folder, name+"-full.png"),
	}, nil
}
