// Package recognitiontest provides a scriptable in-memory Recognizer.
package recognitiontest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/andresmejia3/facewatch/internal/recognition"
	"github.com/andresmejia3/facewatch/internal/types"
)

// Face is what the fake "detects": a region and the embedding it yields.
type Face struct {
	Region types.FaceRegion
	Vec    []float32
}

// Fake recognizes images by their first pixel byte. Tag the frames you feed
// it with Tagged and register the faces for each tag in Faces.
type Fake struct {
	mu sync.Mutex

	Faces map[byte][]Face
	// Fail, when set, is returned by every method for the listed tags.
	Fail map[byte]error
	// Unavailable makes every call fail with recognition.ErrUnavailable.
	Unavailable bool

	Prepares      int
	LocateCalls   int
	LandmarkCalls int
	EmbedCalls    int
	Live          int
}

func New() *Fake {
	return &Fake{Faces: map[byte][]Face{}, Fail: map[byte]error{}}
}

// Add registers one more face for tag. Regions are laid out so each is distinct.
func (f *Fake) Add(tag byte, vec ...float32) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.Faces[tag])
	f.Faces[tag] = append(f.Faces[tag], Face{
		Region: types.FaceRegion{Top: 10 * n, Left: 10 * n, Width: 8, Height: 8},
		Vec:    vec,
	})
	return f
}

func (f *Fake) Prepare(view recognition.ImageView) (recognition.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Unavailable {
		return nil, recognition.ErrUnavailable
	}
	if err := view.Validate(); err != nil {
		return nil, err
	}
	f.Prepares++
	f.Live++
	return &fakeHandle{f: f, tag: view.Pix[0]}, nil
}

type fakeHandle struct {
	f      *Fake
	tag    byte
	closed bool
}

func (h *fakeHandle) Close() error {
	if h.closed {
		return errors.New("image closed twice")
	}
	h.closed = true
	h.f.mu.Lock()
	h.f.Live--
	h.f.mu.Unlock()
	return nil
}

func (f *Fake) handle(img recognition.Image) (*fakeHandle, error) {
	if f.Unavailable {
		return nil, recognition.ErrUnavailable
	}
	h, ok := img.(*fakeHandle)
	if !ok || h.f != f {
		return nil, fmt.Errorf("foreign image handle %T", img)
	}
	if h.closed {
		return nil, errors.New("image handle already closed")
	}
	if err := f.Fail[h.tag]; err != nil {
		return nil, err
	}
	return h, nil
}

func (f *Fake) LocateFaces(img recognition.Image) ([]types.FaceRegion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LocateCalls++
	h, err := f.handle(img)
	if err != nil {
		return nil, err
	}
	var out []types.FaceRegion
	for _, face := range f.Faces[h.tag] {
		out = append(out, face.Region)
	}
	return out, nil
}

func (f *Fake) ExtractLandmarks(img recognition.Image, region types.FaceRegion) (types.Landmarks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LandmarkCalls++
	if _, err := f.handle(img); err != nil {
		return types.Landmarks{}, err
	}
	return types.Landmarks{
		Region: region,
		Points: []types.Point{{X: region.Left, Y: region.Top}},
	}, nil
}

func (f *Fake) ExtractEmbeddings(img recognition.Image, lms []types.Landmarks, chip int) ([]types.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EmbedCalls++
	h, err := f.handle(img)
	if err != nil {
		return nil, err
	}
	out := make([]types.Embedding, 0, len(lms))
	for _, lm := range lms {
		face, ok := f.lookup(h.tag, lm.Region)
		if !ok {
			return nil, fmt.Errorf("no face at %s", lm.Region)
		}
		vec := append([]float32(nil), face.Vec...)
		out = append(out, types.Embedding{Vec: vec, Chip: chip})
	}
	return out, nil
}

func (f *Fake) lookup(tag byte, r types.FaceRegion) (Face, bool) {
	for _, face := range f.Faces[tag] {
		if face.Region == r {
			return face, true
		}
	}
	return Face{}, false
}

func (f *Fake) Close() error { return nil }

// Counts returns the call counters under the lock.
func (f *Fake) Counts() (locate, landmarks, embed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LocateCalls, f.LandmarkCalls, f.EmbedCalls
}

// Tagged builds a small frame whose first pixel byte is tag.
func Tagged(seq uint64, tag byte) types.Frame {
	const w, h = 4, 4
	pix := make([]byte, w*h*types.BytesPerPixel)
	pix[0] = tag
	return types.Frame{Seq: seq, Width: w, Height: h, Pix: pix}
}
