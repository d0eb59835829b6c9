package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facewatch/internal/alert"
	"github.com/andresmejia3/facewatch/internal/capture"
	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/match"
	"github.com/andresmejia3/facewatch/internal/pipeline"
	"github.com/andresmejia3/facewatch/internal/recognition"
)

var watchOpts Options

// openDevice is swapped out in tests.
var openDevice = capture.NewDevice

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream a camera and alert on faces scored against the reference gallery",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := watchOpts.resolve(cmd.Flags())
		if err != nil {
			return fail("Invalid configuration", err, nil)
		}
		return runWatch(cmd.Context(), cfg, os.Stdout)
	},
}

func init() {
	fs := watchCmd.Flags()
	addCaptureFlags(fs, &watchOpts)
	addMatchFlags(fs, &watchOpts)
	addGalleryFlags(fs, &watchOpts)
	fs.StringVar(&watchOpts.Alert, "alert", config.Default().Match.Alert, "Alert delivery (stdout, email, sound)")
	fs.IntVar(&watchOpts.PrintEvery, "print-every", config.Default().Match.PrintEvery, "Log a frame diagnostic every N received frames (0 disables)")
	rootCmd.AddCommand(watchCmd)
}

func captureOptions(c config.CaptureConfig) (capture.Options, error) {
	backend, err := capture.ParseBackend(c.Backend)
	if err != nil {
		return capture.Options{}, err
	}
	return capture.Options{
		Location: c.Location,
		Width:    c.Width,
		Height:   c.Height,
		FPS:      c.FPS,
		Format:   capture.ParseFormat(c.Format),
		Backend:  backend,
	}, nil
}

// runWatch builds the gallery, then starts capture and runs the matching
// loop until the stream ends or ctx is cancelled.
func runWatch(ctx context.Context, cfg config.Config, out io.Writer) error {
	policy, err := match.ParsePolicy(cfg.Match.Policy)
	if err != nil {
		return fail("Invalid alert policy", err, nil)
	}
	kind, err := alert.ParseKind(cfg.Match.Alert)
	if err != nil {
		return fail("Invalid alert kind", err, nil)
	}
	sink, err := alert.NewSink(kind, out)
	if err != nil {
		return fail("Alert kind not available", err, nil)
	}
	opts, err := captureOptions(cfg.Capture)
	if err != nil {
		return fail("Invalid capture backend", err, nil)
	}

	if cfg.Capture.Display {
		fmt.Fprintln(os.Stderr, "⚠️  --display requested but no display backend is compiled in; running headless.")
	}
	if cfg.Capture.QueryDevice {
		reportDeviceSupport(ctx, os.Stderr, opts)
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting recognizer...")
	rec, proc, err := newRecognizer(ctx, cfg.Recognizer)
	if err != nil {
		return fail("Failed to start recognizer", err, proc)
	}
	defer rec.Close()

	g, err := buildGallery(ctx, rec, cfg.Recognizer, cfg.Gallery.Dir)
	if err != nil {
		return fail("Failed to build reference gallery", err, proc)
	}

	dev, err := openDevice(opts)
	if err != nil {
		return fail("Failed to create capture device", err, nil)
	}

	capCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintf(os.Stderr, "📷 Opening %s...\n", dev)
	src := capture.NewSource(dev, cfg.Capture.LogEvery)
	frames, err := src.Start(capCtx)
	if err != nil {
		return fail("Capture device unavailable", err, nil)
	}

	engine := match.NewEngine(rec, g, sink, cfg.Match.Threshold, policy)
	engine.Kind = string(kind)

	fmt.Fprintf(os.Stderr, "👀 Watching for %d identities (policy=%s, threshold=%.2f). Press Ctrl+C to stop.\n",
		g.Len(), policy, cfg.Match.Threshold)

	st, runErr := pipeline.Run(frames, engine, pipeline.Options{PrintEvery: cfg.Match.PrintEvery})

	// The producer may be parked on a full channel; cancel releases it.
	cancel()
	<-src.Done()

	if runErr != nil {
		return fail("Recognizer unavailable, stopping", runErr, proc)
	}
	if err := src.Err(); err != nil {
		logger.Warn(logger.Fields{"device": dev.String(), "error": err.Error()}, "[cmd.runWatch] capture ended")
	}

	fmt.Fprintf(os.Stderr, "✨ Stopped after %d frames (%d with a face, %d skipped, %d alerts) in %s.\n",
		st.Frames, st.Scored, st.Skipped, st.Alerts, st.Elapsed.Round(time.Millisecond))
	return nil
}

// buildGallery scans dir with rec, using the embedding cache when a database is configured.
func buildGallery(ctx context.Context, rec recognition.Recognizer, rc config.RecognizerConfig, dir string) (*gallery.Gallery, error) {
	b := gallery.NewBuilder(rec)
	b.Progress = os.Stderr
	b.Fingerprint = recognizerFingerprint(rc)

	cache, err := openCache(ctx)
	if err != nil {
		logger.Warn(logger.Fields{"error": err.Error()}, "[cmd.buildGallery] embedding cache disabled")
	} else if cache != nil {
		b.Cache = cache
	}

	fmt.Fprintf(os.Stderr, "🖼️  Loading references from %s\n", dir)
	g, err := b.Build(ctx, dir)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "✅ Gallery ready: %d identities\n", g.Len())
	return g, nil
}

// reportDeviceSupport prints the device's advertised modes and whether the
// requested one is among them. Failures are reported, never fatal.
func reportDeviceSupport(ctx context.Context, w io.Writer, opts capture.Options) {
	b := capture.Resolve(opts)
	devices, err := capture.Query(ctx, b)
	if err != nil {
		fmt.Fprintf(w, "⚠️  Could not query %s devices: %v\n", b, err)
		return
	}
	printDevices(w, devices)

	idx := opts.Index()
	for _, d := range devices {
		if d.Index != idx && d.Path != opts.Location && d.Name != opts.Location {
			continue
		}
		if d.Supports(opts) {
			fmt.Fprintf(w, "✅ %s supports %s %dx%d @ %d fps\n", d.Name, opts.Format, opts.Width, opts.Height, opts.FPS)
		} else {
			fmt.Fprintf(w, "⚠️  %s does not advertise %s %dx%d @ %d fps; the driver may substitute another mode\n",
				d.Name, opts.Format, opts.Width, opts.Height, opts.FPS)
		}
		return
	}
	fmt.Fprintf(w, "⚠️  Device %q not found among %s devices\n", opts.Location, b)
}
