// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"ciesign/config"
	"ciesign/internal/core"
	"ciesign/internal/metrics"
	"ciesign/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X ciesign/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stderr receives usage, dry-run and prompt output.
var stderr io.Writer = os.Stderr //nolint:gochecknoglobals

// readPIN reads the card PIN from the terminal without echo.
var readPIN = func() (string, error) { //nolint:gochecknoglobals
	fmt.Fprint(stderr, "Card PIN: ")
	pin, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("reading PIN: %w", err)
	}
	return string(pin), nil
}

// Execute parses args and runs the appropriate ciesign mode.
func Execute(ctx context.Context, args []string) error {
	cfg := config.New()
	config.LoadFromEnv(cfg)
	fs := flag.NewFlagSet("ciesign", flag.ContinueOnError)
	fs.SetOutput(stderr)

	// ── mode ─────────────────────────────────────────────────────
	fs.BoolVar(&cfg.Mock, "mock", cfg.Mock, "Sign without a card (no-hardware signer)")
	fs.StringVar(&cfg.Serve, "serve", cfg.Serve, "Host the signing bridge over HTTP on this address")

	// ── document ─────────────────────────────────────────────────
	fs.StringVarP(&cfg.Input, "in", "i", cfg.Input, "PDF to sign")
	fs.StringVarP(&cfg.Output, "out", "o", cfg.Output, "Signed output (default <in>-signed.pdf)")

	// ── credential ───────────────────────────────────────────────
	fs.StringVar(&cfg.PIN, "pin", cfg.PIN, "Card PIN (prefer --pin-prompt)")
	fs.BoolVar(&cfg.PINPrompt, "pin-prompt", cfg.PINPrompt, "Read the card PIN from the terminal")

	// ── appearance ───────────────────────────────────────────────
	fs.IntVar(&cfg.Page, "page", cfg.Page, "Zero-based page index of the mark")
	fs.Float32Var(&cfg.Left, "left", cfg.Left, "Mark rectangle left edge (points)")
	fs.Float32Var(&cfg.Bottom, "bottom", cfg.Bottom, "Mark rectangle bottom edge (points)")
	fs.Float32Var(&cfg.Width, "width", cfg.Width, "Mark rectangle width, 0 to use --fields")
	fs.Float32Var(&cfg.Height, "height", cfg.Height, "Mark rectangle height, 0 to use --fields")
	fs.StringVar(&cfg.Reason, "reason", cfg.Reason, "Signature reason")
	fs.StringVar(&cfg.Location, "location", cfg.Location, "Signature location")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "Signer name")
	fs.StringVar(&cfg.ImagePath, "image", cfg.ImagePath, "Image drawn in the mark (PNG, JPEG, GIF, BMP, WebP)")
	fields := fs.String("fields", strings.Join(cfg.FieldIDs, ","), "Existing form fields that may anchor the mark, comma separated")

	// ── reader ───────────────────────────────────────────────────
	fs.DurationVar(&cfg.SessionTimeout, "session-timeout", cfg.SessionTimeout, "Card I/O timeout (minimum 60s)")
	fs.IntVar(&cfg.QueueSize, "queue", cfg.QueueSize, "Card sessions that may wait for the signer")
	fs.StringVar(&cfg.ReaderStatus, "reader", cfg.ReaderStatus, "Simulated reader state: ready, disabled, unsupported")
	fs.StringVar(&cfg.SimulateTag, "simulate-tag", cfg.SimulateTag, "Card the simulated reader taps: mock, nfca, none")
	fs.DurationVar(&cfg.SimTagDelay, "tag-delay", cfg.SimTagDelay, "Delay before the simulated tap")
	fs.DurationVar(&cfg.CardWait, "card-wait", cfg.CardWait, "Give up when no card arrives in time (0 waits forever)")

	// ── output ───────────────────────────────────────────────────
	var verbose int
	var quiet bool
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate the configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("ciesign %s\n", version)
		return nil
	}

	if fs.Changed("fields") {
		cfg.FieldIDs = config.ParseFieldIDs(*fields)
	}
	if quiet {
		cfg.Verbose = 0
	} else {
		cfg.Verbose += verbose
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DryRun {
		fmt.Fprintln(stderr, describe(cfg))
		return nil
	}

	if cfg.PINPrompt && !cfg.Mock && !cfg.Serving() {
		pin, err := readPIN()
		if err != nil {
			return err
		}
		cfg.PIN = pin
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	m := metrics.New()

	mode, err := core.Build(cfg, logger, m)
	if err != nil {
		return err
	}
	err = mode.Run(ctx)
	logger.Debug("metrics: %s", m.JSON())
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil
	case 1:
		if cfg.Input != "" {
			return fmt.Errorf("document given twice: --in %s and %s", cfg.Input, remaining[0])
		}
		cfg.Input = remaining[0]
		return nil
	default:
		return fmt.Errorf("too many arguments: one document per run")
	}
}

// describe summarises what a run would do, without secrets.
func describe(cfg *config.Config) string {
	switch {
	case cfg.Serving():
		return fmt.Sprintf("serve: bridge on http://%s, reader %s", cfg.Serve, cfg.ReaderStatus)
	case cfg.Mock:
		return fmt.Sprintf("mock sign: %s → %s", cfg.Input, cfg.OutputPath())
	default:
		return fmt.Sprintf("nfc sign: %s → %s, reader %s, tag %s, session timeout %s",
			cfg.Input, cfg.OutputPath(), cfg.ReaderStatus, cfg.SimulateTag, cfg.SessionTimeout)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(stderr, `ciesign – NFC card signing coordinator v%s

Signs PDF documents with an identity card held against a reader.

Usage:
  ciesign [options] <document.pdf>               Sign with the card
  ciesign --mock [options] <document.pdf>        Sign without a card
  ciesign --serve %s                  Host the bridge over HTTP

Options:
`, version, config.DefaultServeAddr)
	fs.PrintDefaults()
	fmt.Fprintf(stderr, `
Examples:
  ciesign --pin-prompt contract.pdf              Tap the card when asked
  ciesign --mock --reason Approval contract.pdf  Mock signature
  ciesign --width 0 --fields Firma contract.pdf  Place on an existing field
  CIESIGN_PIN=12345678 ciesign -v contract.pdf   PIN from the environment
`)
}
