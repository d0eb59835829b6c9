package types

import (
	"fmt"
	"math"
	"time"
)

// BytesPerPixel is the size of one packed RGB24 pixel.
const BytesPerPixel = 3

// Frame is a single captured RGB24 image, row-major, tagged with the
// sequence number assigned by the capture loop.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time
	Width      int
	Height     int
	Pix        []byte
}

// Stride is the number of bytes per row.
func (f Frame) Stride() int {
	return f.Width * BytesPerPixel
}

// Len is the size of the pixel buffer in bytes.
func (f Frame) Len() int {
	return len(f.Pix)
}

// Validate checks that the buffer matches the declared dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * BytesPerPixel; len(f.Pix) != want {
		return fmt.Errorf("frame buffer is %d bytes, expected %d for %dx%d", len(f.Pix), want, f.Width, f.Height)
	}
	return nil
}

// FaceRegion is an axis-aligned rectangle in frame pixel coordinates.
type FaceRegion struct {
	Top    int `msgpack:"top" json:"top"`
	Left   int `msgpack:"left" json:"left"`
	Width  int `msgpack:"width" json:"width"`
	Height int `msgpack:"height" json:"height"`
}

// Area returns the region's pixel area.
func (r FaceRegion) Area() int {
	return r.Width * r.Height
}

func (r FaceRegion) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", r.Width, r.Height, r.Left, r.Top)
}

// Point is a 2-D landmark coordinate.
type Point struct {
	X int `msgpack:"x" json:"x"`
	Y int `msgpack:"y" json:"y"`
}

// Landmarks are the keypoints predicted for one FaceRegion.
type Landmarks struct {
	Region FaceRegion `msgpack:"region" json:"region"`
	Points []Point    `msgpack:"points" json:"points"`
}

// Embedding is an identity descriptor produced from one face chip.
type Embedding struct {
	Vec  []float32 `msgpack:"vec" json:"vec"`
	Chip int       `msgpack:"chip" json:"chip"`
}

// Dim returns the vector length.
func (e Embedding) Dim() int {
	return len(e.Vec)
}

// Distance is the Euclidean distance between two descriptors.
// Descriptors of different length are infinitely far apart.
func (e Embedding) Distance(other Embedding) float64 {
	return EuclideanDist(e.Vec, other.Vec)
}

// EuclideanDist returns the 2-norm of a-b, accumulated in float64.
func EuclideanDist(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Alert is raised when a frame's face crosses the distance threshold
// against a gallery identity.
type Alert struct {
	ID        string
	Timestamp time.Time
	FrameSeq  uint64
	Identity  string
	Distance  float64
	Kind      string
}
