package capture

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/andresmejia3/facewatch/internal/utils"
)

// SysfsRoot is where V4L2 devices are enumerated. Overridden in tests.
var SysfsRoot = "/sys/class/video4linux"

// Mode is one resolution and the frame rates offered at it.
type Mode struct {
	Width  int
	Height int
	FPS    []float64
}

// FormatInfo groups the modes available for one pixel format.
type FormatInfo struct {
	FourCC string
	Modes  []Mode
}

// DeviceInfo describes one capture device.
type DeviceInfo struct {
	Index   int
	Name    string
	Path    string
	Formats []FormatInfo
}

// Supports reports whether the device advertises the requested mode. A device
// with no format information is assumed to support anything.
func (d DeviceInfo) Supports(opts Options) bool {
	if len(d.Formats) == 0 {
		return true
	}
	for _, f := range d.Formats {
		if !strings.EqualFold(f.FourCC, string(opts.Format)) {
			continue
		}
		for _, m := range f.Modes {
			if m.Width != opts.Width || m.Height != opts.Height {
				continue
			}
			if len(m.FPS) == 0 {
				return true
			}
			for _, fps := range m.FPS {
				if int(fps+0.5) == opts.FPS {
					return true
				}
			}
		}
	}
	return false
}

// Query lists the devices reachable through backend.
func Query(ctx context.Context, b Backend) ([]DeviceInfo, error) {
	if b == BackendAuto || b == "" {
		b = Resolve(Options{Backend: BackendAuto})
	}
	switch b {
	case BackendV4L:
		return queryV4L(ctx)
	case BackendAVFoundation:
		out, err := ffmpegList(ctx, "-f", "avfoundation", "-list_devices", "true", "-i", "")
		if err != nil {
			return nil, err
		}
		return ParseAVFoundationDevices(out), nil
	case BackendDShow:
		out, err := ffmpegList(ctx, "-list_devices", "true", "-f", "dshow", "-i", "dummy")
		if err != nil {
			return nil, err
		}
		return ParseDShowDevices(out), nil
	}
	return nil, fmt.Errorf("%w: %s devices cannot be enumerated", ErrUnknownBackend, b)
}

// ffmpegList runs an ffmpeg device listing. ffmpeg always exits non-zero for
// these, so only the stderr text matters.
func ffmpegList(ctx context.Context, args ...string) (string, error) {
	if err := utils.RequireBinary("ffmpeg"); err != nil {
		return "", err
	}
	cmd := utils.NewSafeCommand(ctx, "ffmpeg", append([]string{"-hide_banner"}, args...)...)
	_ = cmd.Run()
	return cmd.Stderr.String(), nil
}

func queryV4L(ctx context.Context) ([]DeviceInfo, error) {
	devs, err := ListV4L(SysfsRoot)
	if err != nil {
		return nil, err
	}
	if utils.RequireBinary("v4l2-ctl") != nil {
		return devs, nil
	}
	for i := range devs {
		out, err := exec.CommandContext(ctx, "v4l2-ctl", "-d", devs[i].Path, "--list-formats-ext").Output()
		if err != nil {
			continue
		}
		devs[i].Formats = ParseV4L2Formats(string(out))
	}
	return devs, nil
}

// ListV4L reads device names from sysfs.
func ListV4L(root string) ([]DeviceInfo, error) {
	matches, err := filepath.Glob(filepath.Join(root, "video*"))
	if err != nil {
		return nil, err
	}
	var out []DeviceInfo
	for _, m := range matches {
		base := filepath.Base(m)
		idx, err := strconv.Atoi(strings.TrimPrefix(base, "video"))
		if err != nil {
			continue
		}
		name, _ := os.ReadFile(filepath.Join(m, "name"))
		out = append(out, DeviceInfo{
			Index: idx,
			Name:  strings.TrimSpace(string(name)),
			Path:  "/dev/" + base,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

var (
	v4lFormatRe   = regexp.MustCompile(`^\s*\[\d+\]:\s*'(\w+)'`)
	v4lSizeRe     = regexp.MustCompile(`^\s*Size:\s*\w+\s+(\d+)x(\d+)`)
	v4lIntervalRe = regexp.MustCompile(`\(([\d.]+)\s*fps\)`)
)

// ParseV4L2Formats parses `v4l2-ctl --list-formats-ext` output.
func ParseV4L2Formats(text string) []FormatInfo {
	var formats []FormatInfo
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		if m := v4lFormatRe.FindStringSubmatch(line); m != nil {
			formats = append(formats, FormatInfo{FourCC: m[1]})
			continue
		}
		if len(formats) == 0 {
			continue
		}
		f := &formats[len(formats)-1]
		if m := v4lSizeRe.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			f.Modes = append(f.Modes, Mode{Width: w, Height: h})
			continue
		}
		if m := v4lIntervalRe.FindStringSubmatch(line); m != nil && len(f.Modes) > 0 {
			fps, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				mode := &f.Modes[len(f.Modes)-1]
				mode.FPS = append(mode.FPS, fps)
			}
		}
	}
	return formats
}

var (
	avfDeviceRe   = regexp.MustCompile(`\]\s*\[(\d+)\]\s*(.+)$`)
	dshowDeviceRe = regexp.MustCompile(`"([^"]+)"\s*\(video\)`)
)

// ParseAVFoundationDevices parses the video section of an avfoundation device listing.
func ParseAVFoundationDevices(text string) []DeviceInfo {
	var out []DeviceInfo
	inVideo := false
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.Contains(line, "video devices:"):
			inVideo = true
			continue
		case strings.Contains(line, "audio devices:"):
			inVideo = false
			continue
		}
		if !inVideo {
			continue
		}
		if m := avfDeviceRe.FindStringSubmatch(line); m != nil {
			idx, _ := strconv.Atoi(m[1])
			out = append(out, DeviceInfo{Index: idx, Name: strings.TrimSpace(m[2]), Path: m[1]})
		}
	}
	return out
}

// ParseDShowDevices parses a DirectShow device listing. Devices are indexed
// in listing order.
func ParseDShowDevices(text string) []DeviceInfo {
	var out []DeviceInfo
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		if m := dshowDeviceRe.FindStringSubmatch(sc.Text()); m != nil {
			out = append(out, DeviceInfo{Index: len(out), Name: m[1], Path: m[1]})
		}
	}
	return out
}
