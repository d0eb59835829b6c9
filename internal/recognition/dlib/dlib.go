//go:build dlib

// Package dlib is an in-process recognizer backed by github.com/Kagami/go-face.
// Build with -tags dlib; it needs the dlib headers and libjpeg at link time.
package dlib

import (
	"fmt"
	"image"

	"github.com/Kagami/go-face"

	"github.com/andresmejia3/facewatch/internal/imageio"
	"github.com/andresmejia3/facewatch/internal/recognition"
	"github.com/andresmejia3/facewatch/internal/types"
)

// jpegQuality is used when handing frames to go-face, which only accepts encoded images.
const jpegQuality = 95

// Recognizer runs detection, landmarks and the ResNet descriptor in one pass
// at Prepare time and serves the later calls from that result.
type Recognizer struct {
	rec *face.Recognizer
}

var _ recognition.Recognizer = (*Recognizer)(nil)

// New loads the dlib models from modelsDir.
func New(modelsDir string) (*Recognizer, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: loading models from %s: %v", recognition.ErrUnavailable, modelsDir, err)
	}
	return &Recognizer{rec: rec}, nil
}

type prepared struct {
	owner  *Recognizer
	faces  []face.Face
	closed bool
}

func (p *prepared) Close() error {
	p.closed = true
	p.faces = nil
	return nil
}

func (r *Recognizer) Prepare(view recognition.ImageView) (recognition.Image, error) {
	if err := view.Validate(); err != nil {
		return nil, err
	}
	frame := types.Frame{Width: view.Width, Height: view.Height, Pix: view.Packed()}
	data, err := imageio.EncodeJPEG(frame, jpegQuality)
	if err != nil {
		return nil, err
	}
	faces, err := r.rec.Recognize(data)
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}
	return &prepared{owner: r, faces: faces}, nil
}

func (r *Recognizer) prepared(img recognition.Image) (*prepared, error) {
	p, ok := img.(*prepared)
	if !ok || p.owner != r {
		return nil, fmt.Errorf("image handle %T does not belong to this recognizer", img)
	}
	if p.closed {
		return nil, fmt.Errorf("image handle already closed")
	}
	return p, nil
}

func (r *Recognizer) LocateFaces(img recognition.Image) ([]types.FaceRegion, error) {
	p, err := r.prepared(img)
	if err != nil {
		return nil, err
	}
	out := make([]types.FaceRegion, len(p.faces))
	for i, f := range p.faces {
		out[i] = toRegion(f.Rectangle)
	}
	return out, nil
}

func (r *Recognizer) ExtractLandmarks(img recognition.Image, region types.FaceRegion) (types.Landmarks, error) {
	p, err := r.prepared(img)
	if err != nil {
		return types.Landmarks{}, err
	}
	f, err := p.find(region)
	if err != nil {
		return types.Landmarks{}, err
	}
	lm := types.Landmarks{Region: region, Points: make([]types.Point, len(f.Shapes))}
	for i, pt := range f.Shapes {
		lm.Points[i] = types.Point{X: pt.X, Y: pt.Y}
	}
	return lm, nil
}

func (r *Recognizer) ExtractEmbeddings(img recognition.Image, lms []types.Landmarks, chip int) ([]types.Embedding, error) {
	p, err := r.prepared(img)
	if err != nil {
		return nil, err
	}
	out := make([]types.Embedding, len(lms))
	for i, lm := range lms {
		f, err := p.find(lm.Region)
		if err != nil {
			return nil, err
		}
		vec := make([]float32, len(f.Descriptor))
		copy(vec, f.Descriptor[:])
		out[i] = types.Embedding{Vec: vec, Chip: chip}
	}
	return out, nil
}

func (p *prepared) find(region types.FaceRegion) (face.Face, error) {
	for _, f := range p.faces {
		if toRegion(f.Rectangle) == region {
			return f, nil
		}
	}
	return face.Face{}, fmt.Errorf("no detected face at %s", region)
}

func (r *Recognizer) Close() error {
	r.rec.Close()
	return nil
}

func toRegion(rect image.Rectangle) types.FaceRegion {
	return types.FaceRegion{
		Top:    rect.Min.Y,
		Left:   rect.Min.X,
		Width:  rect.Dx(),
		Height: rect.Dy(),
	}
}
