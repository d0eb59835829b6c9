package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Backend selects the capture API used to talk to the camera.
type Backend string

const (
	BackendAuto         Backend = "auto"
	BackendV4L          Backend = "v4l"
	BackendAVFoundation Backend = "avfoundation"
	BackendDShow        Backend = "dshow"
	BackendOpenCV       Backend = "opencv"
	// BackendNetwork is chosen automatically for URL locations.
	BackendNetwork Backend = "network"
)

// PixelFormat is the format requested from the camera driver.
type PixelFormat string

const (
	FormatMJPG PixelFormat = "MJPG"
	FormatYUYV PixelFormat = "YUYV"
)

var (
	ErrUnknownBackend = errors.New("unknown capture backend")
	ErrNotCompiledIn  = errors.New("capture backend not compiled into this binary")
)

// Options is the requested capture configuration.
type Options struct {
	Location string // device index, device path, or stream URL
	Width    int
	Height   int
	FPS      int
	Format   PixelFormat
	Backend  Backend
}

// IsNetwork reports whether Location names a network stream rather than a local device.
func (o Options) IsNetwork() bool {
	return strings.Contains(o.Location, "://")
}

// Index returns the numeric device index, or -1 if Location is not a number.
func (o Options) Index() int {
	n, err := strconv.Atoi(strings.TrimSpace(o.Location))
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Opener builds a Device for a backend.
type Opener func(Options) (Device, error)

var (
	registryMu sync.RWMutex
	registry   = map[Backend]Opener{}
)

// Register makes a backend available. Build-tagged backends call it from init.
func Register(b Backend, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b] = open
}

// Backends lists the registered backends.
func Backends() []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Backend, 0, len(registry))
	for b := range registry {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseBackend accepts the CLI spellings, case-insensitively.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "v4l", "v4l2", "uvc":
		return BackendV4L, nil
	case "avfoundation", "avf":
		return BackendAVFoundation, nil
	case "dshow", "msmf":
		return BackendDShow, nil
	case "opencv", "gocv":
		return BackendOpenCV, nil
	case "network", "ip":
		return BackendNetwork, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// ParseFormat maps a FourCC to a PixelFormat. Unknown values fall back to MJPG.
func ParseFormat(s string) PixelFormat {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatYUYV)) {
		return FormatYUYV
	}
	return FormatMJPG
}

// Resolve turns BackendAuto into the concrete backend for this OS and location.
func Resolve(opts Options) Backend {
	if opts.Backend != BackendAuto && opts.Backend != "" {
		return opts.Backend
	}
	if opts.IsNetwork() {
		return BackendNetwork
	}
	switch runtime.GOOS {
	case "darwin":
		return BackendAVFoundation
	case "windows":
		return BackendDShow
	default:
		return BackendV4L
	}
}

// NewDevice builds the Device for opts without opening it.
func NewDevice(opts Options) (Device, error) {
	b := Resolve(opts)

	registryMu.RLock()
	open, ok := registry[b]
	registryMu.RUnlock()

	if !ok {
		if b == BackendOpenCV {
			return nil, fmt.Errorf("%w: %s (rebuild with -tags gocv)", ErrNotCompiledIn, b)
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, b)
	}
	opts.Backend = b
	return open(opts)
}
