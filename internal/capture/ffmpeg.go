package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andresmejia3/facewatch/internal/imageio"
	"github.com/andresmejia3/facewatch/internal/types"
	"github.com/andresmejia3/facewatch/internal/utils"
)

const megabyte = 1024 * 1024

func init() {
	for _, b := range []Backend{BackendV4L, BackendAVFoundation, BackendDShow, BackendNetwork} {
		Register(b, func(opts Options) (Device, error) { return NewFFmpegDevice(opts), nil })
	}
}

// FFmpegDevice reads a camera through an ffmpeg child process that re-encodes
// the stream as MJPEG on stdout. Frame boundaries are recovered with SplitJpeg.
type FFmpegDevice struct {
	opts Options

	cmd     *utils.SafeCommand
	cancel  context.CancelFunc
	stdout  io.ReadCloser
	scanner *bufio.Scanner
	first   *types.Frame
}

func NewFFmpegDevice(opts Options) *FFmpegDevice {
	return &FFmpegDevice{opts: opts}
}

func (d *FFmpegDevice) String() string {
	return fmt.Sprintf("%s:%s", Resolve(d.opts), d.opts.Location)
}

// Open starts ffmpeg and waits for the first decoded frame. ffmpeg exits
// immediately if the driver rejects the requested mode, so a missing first
// frame is the negotiation failure.
func (d *FFmpegDevice) Open(ctx context.Context) error {
	if err := utils.RequireBinary("ffmpeg"); err != nil {
		return err
	}
	args, err := ffmpegArgs(d.opts)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.cmd = utils.NewSafeCommand(cctx, "ffmpeg", args...)

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	d.stdout = stdout

	if err := d.cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	d.scanner = bufio.NewScanner(stdout)
	d.scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	d.scanner.Split(utils.SplitJpeg)

	frame, err := d.read()
	if err != nil {
		stderr := d.cmd.Stderr
		d.Close()
		if logs := strings.TrimSpace(stderr.String()); logs != "" {
			return fmt.Errorf("%w: %s", err, lastLine(logs))
		}
		return err
	}
	d.first = &frame
	return nil
}

// Next returns the next decoded frame. The frame buffered during Open is returned first.
func (d *FFmpegDevice) Next(ctx context.Context) (types.Frame, error) {
	if d.first != nil {
		f := *d.first
		d.first = nil
		return f, nil
	}
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	return d.read()
}

func (d *FFmpegDevice) read() (types.Frame, error) {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return types.Frame{}, fmt.Errorf("frame scanner failed: %w", err)
		}
		return types.Frame{}, io.EOF
	}
	return imageio.DecodeJPEG(d.scanner.Bytes())
}

// Close stops ffmpeg and reaps the process.
func (d *FFmpegDevice) Close() error {
	if d.cmd == nil {
		return nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.cmd.Process != nil {
		// Signal before closing stdout so ffmpeg dies from the kill, not a write error.
		_ = d.cmd.Process.Kill()
	}
	if d.stdout != nil {
		d.stdout.Close()
	}
	err := d.cmd.Wait()
	d.cmd = nil
	return shutdownErr(err)
}

// shutdownErr drops the error of an ffmpeg that died from the signal Close
// sent. An ffmpeg that exited with its own status is reported.
func shutdownErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == -1 {
			return nil
		}
		return fmt.Errorf("ffmpeg exited with status %d: %w", exitErr.ExitCode(), err)
	}
	return err
}

// ffmpegArgs builds the input side for the resolved backend and the MJPEG
// image2pipe output side shared by all of them.
func ffmpegArgs(opts Options) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	size := fmt.Sprintf("%dx%d", opts.Width, opts.Height)
	rate := strconv.Itoa(opts.FPS)

	switch b := Resolve(opts); b {
	case BackendNetwork:
		if strings.HasPrefix(opts.Location, "rtsp://") {
			args = append(args, "-rtsp_transport", "tcp")
		}
		args = append(args, "-i", opts.Location, "-vf", "scale="+strings.Replace(size, "x", ":", 1), "-r", rate)
	case BackendV4L:
		input := opts.Location
		if idx := opts.Index(); idx >= 0 {
			input = fmt.Sprintf("/dev/video%d", idx)
		}
		inFmt := "mjpeg"
		if opts.Format == FormatYUYV {
			inFmt = "yuyv422"
		}
		args = append(args, "-f", "v4l2", "-input_format", inFmt, "-video_size", size, "-framerate", rate, "-i", input)
	case BackendAVFoundation:
		pixFmt := "nv12"
		if opts.Format == FormatYUYV {
			pixFmt = "yuyv422"
		}
		args = append(args, "-f", "avfoundation", "-pixel_format", pixFmt, "-video_size", size, "-framerate", rate, "-i", opts.Location+":none")
	case BackendDShow:
		args = append(args, "-f", "dshow", "-video_size", size, "-framerate", rate)
		if opts.Format == FormatMJPG {
			args = append(args, "-vcodec", "mjpeg")
		}
		args = append(args, "-i", "video="+opts.Location)
	default:
		return nil, fmt.Errorf("%w: %s is not served by ffmpeg", ErrUnknownBackend, b)
	}

	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3", "-"), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
