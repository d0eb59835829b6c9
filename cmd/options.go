package cmd

import (
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/andresmejia3/facewatch/internal/config"
)

// Options holds the flags shared by watch, gallery and identify.
// Only flags the user actually set override the loaded configuration.
type Options struct {
	Capture     string
	Width       int
	Height      int
	FPS         int
	Format      string
	Backend     string
	QueryDevice bool
	Display     bool
	LogEvery    int

	Reference  string
	Threshold  float64
	Policy     string
	Alert      string
	PrintEvery int

	Recognizer    string
	Worker        string
	WorkerTimeout time.Duration
	Models        string
}

func addCaptureFlags(fs *pflag.FlagSet, o *Options) {
	d := config.Default().Capture
	fs.StringVarP(&o.Capture, "capture", "c", d.Location, "Camera index, device path, or stream URL")
	fs.IntVarP(&o.Width, "width", "w", d.Width, "Requested frame width")
	fs.IntVarP(&o.Height, "height", "H", d.Height, "Requested frame height")
	fs.IntVarP(&o.FPS, "framerate", "r", d.FPS, "Requested frames per second")
	fs.StringVarP(&o.Format, "format", "f", d.Format, "Pixel format (MJPG, YUYV)")
	fs.StringVarP(&o.Backend, "backend", "b", d.Backend, "Capture backend (auto, v4l, avfoundation, dshow, network, opencv)")
	fs.BoolVarP(&o.QueryDevice, "query-device", "s", false, "Print the device's supported modes before capturing")
	fs.BoolVarP(&o.Display, "display", "d", false, "Show frames in a window (no display backend is compiled in)")
	fs.IntVar(&o.LogEvery, "log-every", d.LogEvery, "Log a capture diagnostic every N frames")
}

func addMatchFlags(fs *pflag.FlagSet, o *Options) {
	d := config.Default().Match
	fs.Float64VarP(&o.Threshold, "threshold", "t", d.Threshold, "Face matching distance threshold")
	fs.StringVar(&o.Policy, "policy", d.Policy, "Alert policy (stranger: alert when farther than threshold, watchlist: alert when within)")
}

func addGalleryFlags(fs *pflag.FlagSet, o *Options) {
	d := config.Default()
	fs.StringVar(&o.Reference, "reference", d.Gallery.Dir, "Directory of reference images; each filename is an identity")
	fs.StringVar(&o.Recognizer, "recognizer", d.Recognizer.Kind, "Recognizer backend (worker, dlib)")
	fs.StringVar(&o.Worker, "worker", "", "Recognizer worker command (default: python3 -u python/recognizer.py)")
	fs.DurationVar(&o.WorkerTimeout, "worker-timeout", 0, "Per-call worker read timeout (0 disables)")
	fs.StringVar(&o.Models, "models", d.Recognizer.Models, "Directory holding the recognition models")
}

// apply copies every flag the user set in fs onto cfg.
func (o Options) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := map[string]func(){
		"capture":        func() { cfg.Capture.Location = o.Capture },
		"width":          func() { cfg.Capture.Width = o.Width },
		"height":         func() { cfg.Capture.Height = o.Height },
		"framerate":      func() { cfg.Capture.FPS = o.FPS },
		"format":         func() { cfg.Capture.Format = strings.ToUpper(o.Format) },
		"backend":        func() { cfg.Capture.Backend = o.Backend },
		"query-device":   func() { cfg.Capture.QueryDevice = o.QueryDevice },
		"display":        func() { cfg.Capture.Display = o.Display },
		"log-every":      func() { cfg.Capture.LogEvery = o.LogEvery },
		"reference":      func() { cfg.Gallery.Dir = o.Reference },
		"threshold":      func() { cfg.Match.Threshold = o.Threshold },
		"policy":         func() { cfg.Match.Policy = strings.ToLower(o.Policy) },
		"alert":          func() { cfg.Match.Alert = strings.ToLower(o.Alert) },
		"print-every":    func() { cfg.Match.PrintEvery = o.PrintEvery },
		"recognizer":     func() { cfg.Recognizer.Kind = o.Recognizer },
		"worker":         func() { cfg.Recognizer.Command = strings.Fields(o.Worker) },
		"worker-timeout": func() { cfg.Recognizer.Timeout = o.WorkerTimeout },
		"models":         func() { cfg.Recognizer.Models = o.Models },
	}
	fs.Visit(func(f *pflag.Flag) {
		if fn, ok := set[f.Name]; ok {
			fn()
		}
	})
}

// resolve layers the set flags over the loaded configuration and validates the result.
func (o Options) resolve(fs *pflag.FlagSet) (config.Config, error) {
	cfg := Cfg
	o.apply(fs, &cfg)
	cfg.Normalize()
	return cfg, cfg.Validate()
}
