package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/root4loot/goutils/fileutil"
	"github.com/root4loot/goutils/log"
	"github.com/root4loot/pagecapture/pkg/capture"
)

const (
	version = "0.1.0"
	usage   = `USAGE:
  pagecapture [options]

  Without options, captures http://localhost:8890/fundanalyzer/v2/index to
  fundanalyzer_v2_index.png and fundanalyzer_v2_index-full.png.

TARGET:
  -u,   --url                    page to capture                                (Default: http://localhost:8890/fundanalyzer/v2/index)
  -o,   --out                    viewport screenshot path                       (Default: fundanalyzer_v2_index.png)
  -fo,  --full-out               full-page screenshot path                      (Default: fundanalyzer_v2_index-full.png)
  -l,   --list                   input file with pages to capture (one per line)
  -of,  --outfolder              folder for list and stdin screenshots          (Default: .)
        --config                 YAML configuration file

CONFIGURATIONS:
  -e,   --engine                 browser automation engine (rod, chromedp)      (Default: rod)
  -cw,  --capture-width          viewport width                                 (Default: 1920)
  -ch,  --capture-height         viewport height                                (Default: 1080)
  -to,  --timeout                timeout for each capture                       (Default: 30s)
  -dc,  --delay-capture          delay after load before capturing              (Default: 0s)
  -c,   --concurrency            number of pages captured at once               (Default: 1)
  -ua,  --user-agent             specify user agent                             (Default: browser default)
  -bin, --browser-bin            browser executable                             (Default: auto-detect)
  -ice, --ignore-cert-err        ignore certificate errors                      (Default: false)
  -dh,  --disable-http2          disable HTTP2                                  (Default: false)

OUTPUT:
  -it,  --imprint                add the page origin below each image           (Default: false)
  -cp,  --compare-previous       report similarity to the image being replaced  (Default: false)
        --debug                  enable debug mode
        --version                display version
`
)

type cli struct {
	config     capture.Config
	TargetURL  string
	Out        string
	FullOut    string
	Infile     string
	Outfolder  string
	ConfigFile string
	Debug      bool
	Help       bool
	Version    bool
	stdin      io.Reader
}

func newCLI() *cli {
	target := capture.DefaultTarget()
	return &cli{
		config:    capture.NewConfig(),
		TargetURL: target.URL,
		Out:       target.ViewportPath,
		FullOut:   target.FullPagePath,
		Outfolder: ".",
	}
}

func init() {
	log.Init("pagecapture")
}

func main() {
	cli := newCLI()
	if cli.hasStdin() {
		cli.stdin = os.Stdin
	}

	if err := cli.parseFlags(os.Args[1:]); err != nil {
		log.Errorf("%v", err)
		fmt.Print(usage)
		os.Exit(2)
	}

	if cli.Help {
		fmt.Print(usage)
		os.Exit(0)
	}

	if cli.Version {
		fmt.Println("pagecapture", version)
		os.Exit(0)
	}

	capture.SetDebug(cli.Debug)

	capturer, err := capture.NewCapturer(cli.config.Options)
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(2)
	}

	runner := capture.NewRunner(capturer)
	runner.Concurrency = cli.config.Concurrency

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, runner, cli.config.Targets)
	stop()
	os.Exit(code)
}

// run captures targets and returns the process exit code.
func run(ctx context.Context, runner *capture.Runner, targets []capture.Target) int {
	results := make(chan capture.Result)
	go runner.RunStream(ctx, results, targets...)

	failed := 0
	for result := range results {
		if result.Error != nil {
			failed++
		}
	}

	if failed > 0 {
		log.Errorf("%d of %d captures failed", failed, len(targets))
		return 1
	}
	return 0
}

func (c *cli) flagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("pagecapture", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	// TARGET
	fs.StringVar(&c.TargetURL, "url", c.TargetURL, "")
	fs.StringVar(&c.TargetURL, "u", c.TargetURL, "")
	fs.StringVar(&c.Out, "out", c.Out, "")
	fs.StringVar(&c.Out, "o", c.Out, "")
	fs.StringVar(&c.FullOut, "full-out", c.FullOut, "")
	fs.StringVar(&c.FullOut, "fo", c.FullOut, "")
	fs.StringVar(&c.Infile, "list", c.Infile, "")
	fs.StringVar(&c.Infile, "l", c.Infile, "")
	fs.StringVar(&c.Outfolder, "outfolder", c.Outfolder, "")
	fs.StringVar(&c.Outfolder, "of", c.Outfolder, "")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "")

	// CONFIGURATIONS
	o := &c.config.Options
	fs.StringVar(&o.Engine, "engine", o.Engine, "")
	fs.StringVar(&o.Engine, "e", o.Engine, "")
	fs.IntVar(&o.Width, "capture-width", o.Width, "")
	fs.IntVar(&o.Width, "cw", o.Width, "")
	fs.IntVar(&o.Height, "capture-height", o.Height, "")
	fs.IntVar(&o.Height, "ch", o.Height, "")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "")
	fs.DurationVar(&o.Timeout, "to", o.Timeout, "")
	fs.DurationVar(&o.DelayBeforeCapture, "delay-capture", o.DelayBeforeCapture, "")
	fs.DurationVar(&o.DelayBeforeCapture, "dc", o.DelayBeforeCapture, "")
	fs.IntVar(&c.config.Concurrency, "concurrency", c.config.Concurrency, "")
	fs.IntVar(&c.config.Concurrency, "c", c.config.Concurrency, "")
	fs.StringVar(&o.UserAgent, "user-agent", o.UserAgent, "")
	fs.StringVar(&o.UserAgent, "ua", o.UserAgent, "")
	fs.StringVar(&o.BrowserBin, "browser-bin", o.BrowserBin, "")
	fs.StringVar(&o.BrowserBin, "bin", o.BrowserBin, "")
	fs.BoolVar(&o.IgnoreCertificateErrors, "ignore-cert-err", o.IgnoreCertificateErrors, "")
	fs.BoolVar(&o.IgnoreCertificateErrors, "ice", o.IgnoreCertificateErrors, "")
	fs.BoolVar(&o.DisableHTTP2, "disable-http2", o.DisableHTTP2, "")
	fs.BoolVar(&o.DisableHTTP2, "dh", o.DisableHTTP2, "")

	// OUTPUT
	fs.BoolVar(&o.Imprint, "imprint", o.Imprint, "")
	fs.BoolVar(&o.Imprint, "it", o.Imprint, "")
	fs.BoolVar(&o.CompareWithPrevious, "compare-previous", o.CompareWithPrevious, "")
	fs.BoolVar(&o.CompareWithPrevious, "cp", o.CompareWithPrevious, "")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "")
	fs.BoolVar(&c.Help, "help", c.Help, "")
	fs.BoolVar(&c.Help, "h", c.Help, "")
	fs.BoolVar(&c.Version, "version", c.Version, "")

	return fs
}

// parseFlags fills the configuration from args. With --config, the file is
// loaded first and flags given on the command line override it.
func (c *cli) parseFlags(args []string) error {
	fs := c.flagSet()
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	if c.Help || c.Version {
		return nil
	}

	if c.ConfigFile != "" {
		cfg, err := capture.LoadConfig(c.ConfigFile)
		if err != nil {
			return err
		}
		c.config = cfg
		fs = c.flagSet()
		if err := fs.Parse(args); err != nil {
			return err
		}
	}

	targets, err := c.targets(fs)
	if err != nil {
		return err
	}
	c.config.Targets = targets

	return c.config.Validate()
}

// targets picks pages from, in order: --list, piped stdin, --url/--out/--full-out,
// the configuration.
func (c *cli) targets(fs *flag.FlagSet) ([]capture.Target, error) {
	if c.hasInfile() {
		lines, err := fileutil.ReadFile(c.Infile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", c.Infile, err)
		}
		return c.targetsFromLines(lines)
	}

	if c.stdin != nil {
		var lines []string
		scanner := bufio.NewScanner(c.stdin)
		for scanner.Scan() {
			lines = append(lines, strings.Fields(scanner.Text())...)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		if len(lines) > 0 {
			return c.targetsFromLines(lines)
		}
	}

	if c.hasTarget(fs) {
		return []capture.Target{{
			URL:          c.TargetURL,
			ViewportPath: c.Out,
			FullPagePath: c.FullOut,
		}}, nil
	}

	return c.config.Targets, nil
}

func (c *cli) targetsFromLines(lines []string) ([]capture.Target, error) {
	var targets []capture.Target
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		target, err := capture.TargetFromURL(line, c.Outfolder)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	if len(targets) == 0 {
		return nil, errors.New("no targets in input")
	}
	return targets, nil
}

// hasTarget reports whether any of the single target flags were given.
func (c *cli) hasTarget(fs *flag.FlagSet) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url", "u", "out", "o", "full-out", "fo":
			set = true
		}
	})
	return set
}

func (c *cli) hasInfile() bool {
	return c.Infile != ""
}

// hasStdin determines if the user has piped input
func (c *cli) hasStdin() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}

	mode := stat.Mode()

	isPipedFromChrDev := (mode & os.ModeCharDevice) == 0
	isPipedFromFIFO := (mode & os.ModeNamedPipe) != 0

	return isPipedFromChrDev || isPipedFromFIFO
}
