//go:build gocv

package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/facewatch/internal/imageio"
	"github.com/andresmejia3/facewatch/internal/types"
)

func init() {
	Register(BackendOpenCV, func(opts Options) (Device, error) { return &OpenCVDevice{opts: opts}, nil })
}

// OpenCVDevice captures through OpenCV's VideoCapture. Build with -tags gocv.
type OpenCVDevice struct {
	opts Options
	cam  *gocv.VideoCapture
	mat  gocv.Mat
}

func (d *OpenCVDevice) String() string {
	return fmt.Sprintf("%s:%s", BackendOpenCV, d.opts.Location)
}

func (d *OpenCVDevice) Open(ctx context.Context) error {
	var (
		cam *gocv.VideoCapture
		err error
	)
	if idx := d.opts.Index(); idx >= 0 {
		cam, err = gocv.OpenVideoCapture(idx)
	} else {
		cam, err = gocv.VideoCaptureFile(d.opts.Location)
	}
	if err != nil {
		return err
	}

	cam.Set(gocv.VideoCaptureFOURCC, cam.ToCodec(string(d.opts.Format)))
	cam.Set(gocv.VideoCaptureFrameWidth, float64(d.opts.Width))
	cam.Set(gocv.VideoCaptureFrameHeight, float64(d.opts.Height))
	cam.Set(gocv.VideoCaptureFPS, float64(d.opts.FPS))
	cam.Set(gocv.VideoCaptureBufferSize, 1)

	d.cam = cam
	d.mat = gocv.NewMat()

	// The driver may silently pick another mode; read one frame to find out.
	if ok := cam.Read(&d.mat); !ok || d.mat.Empty() {
		d.Close()
		return errors.New("no frame after negotiation")
	}
	return nil
}

func (d *OpenCVDevice) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if d.mat.Empty() {
		if ok := d.cam.Read(&d.mat); !ok || d.mat.Empty() {
			return types.Frame{}, errors.New("opencv read failed")
		}
	}
	// ToImage reads the BGR channel order itself.
	img, err := d.mat.ToImage()
	d.mat.Close()
	d.mat = gocv.NewMat()
	if err != nil {
		return types.Frame{}, err
	}
	f := imageio.ToFrame(img)
	f.CapturedAt = time.Now()
	return f, nil
}

func (d *OpenCVDevice) Close() error {
	d.mat.Close()
	if d.cam == nil {
		return nil
	}
	err := d.cam.Close()
	d.cam = nil
	return err
}
