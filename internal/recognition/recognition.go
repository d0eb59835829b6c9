// Package recognition defines the face recognition capability set the
// pipeline depends on. Detection, landmark prediction and embedding networks
// live behind this interface; see internal/worker and recognition/dlib.
package recognition

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/facewatch/internal/types"
)

// ErrUnavailable means the recognizer can no longer serve any request
// (the worker process died, the models failed to load). It is fatal to the
// match loop; every other recognizer error only costs the current frame.
var ErrUnavailable = errors.New("recognizer unavailable")

// DefaultChip is the chip index used for every embedding the pipeline requests.
const DefaultChip = 0

// ImageView is a borrowed RGB24 view handed to Prepare. The recognizer must
// copy whatever it needs before Prepare returns.
type ImageView struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// ViewOf borrows the pixels of f.
func ViewOf(f types.Frame) ImageView {
	return ImageView{Width: f.Width, Height: f.Height, Stride: f.Stride(), Pix: f.Pix}
}

// Validate checks the view geometry.
func (v ImageView) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", v.Width, v.Height)
	}
	if v.Stride < v.Width*types.BytesPerPixel {
		return fmt.Errorf("stride %d too small for width %d", v.Stride, v.Width)
	}
	if len(v.Pix) < v.Stride*(v.Height-1)+v.Width*types.BytesPerPixel {
		return fmt.Errorf("pixel buffer too short: %d bytes", len(v.Pix))
	}
	return nil
}

// Packed returns the pixels with no row padding, copying only if needed.
func (v ImageView) Packed() []byte {
	row := v.Width * types.BytesPerPixel
	if v.Stride == row {
		return v.Pix[:row*v.Height]
	}
	out := make([]byte, row*v.Height)
	for y := 0; y < v.Height; y++ {
		copy(out[y*row:(y+1)*row], v.Pix[y*v.Stride:])
	}
	return out
}

// Image is an opaque, recognizer-owned handle produced by Prepare.
// It is only valid with the recognizer that produced it.
type Image interface {
	Close() error
}

// Recognizer is the face recognition capability set.
//
// Implementations are used from a single goroutine at a time.
type Recognizer interface {
	Prepare(view ImageView) (Image, error)
	LocateFaces(img Image) ([]types.FaceRegion, error)
	ExtractLandmarks(img Image, region types.FaceRegion) (types.Landmarks, error)
	// ExtractEmbeddings returns one embedding per landmark set, in input order.
	ExtractEmbeddings(img Image, landmarks []types.Landmarks, chip int) ([]types.Embedding, error)
	Close() error
}
