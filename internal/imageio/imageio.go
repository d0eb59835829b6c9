// Package imageio decodes still images and camera JPEGs into packed RGB24 frames.
package imageio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/andresmejia3/facewatch/internal/types"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeFile decodes any registered image format into an RGB frame.
func DecodeFile(path string) (types.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Frame{}, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode decodes any registered image format into an RGB frame.
func Decode(r io.Reader) (types.Frame, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode image: %w", err)
	}
	frame := ToFrame(img)
	if err := frame.Validate(); err != nil {
		return types.Frame{}, fmt.Errorf("decode %s image: %w", format, err)
	}
	return frame, nil
}

// DecodeJPEG is the hot path used by the MJPEG capture pipe.
func DecodeJPEG(data []byte) (types.Frame, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode jpeg frame: %w", err)
	}
	return ToFrame(img), nil
}

// ToFrame packs an image into a tightly strided RGB24 buffer, dropping alpha.
func ToFrame(img image.Image) types.Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var rgba *image.RGBA
	if src, ok := img.(*image.RGBA); ok && src.Rect.Min == (image.Point{}) {
		rgba = src
	} else {
		rgba = image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	pix := make([]byte, w*h*types.BytesPerPixel)
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		out := pix[y*w*types.BytesPerPixel:]
		for x := 0; x < w; x++ {
			out[x*3] = row[x*4]
			out[x*3+1] = row[x*4+1]
			out[x*3+2] = row[x*4+2]
		}
	}
	return types.Frame{Width: w, Height: h, Pix: pix}
}

// ToImage wraps an RGB frame as an image.Image (used for re-encoding).
func ToImage(f types.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Pix) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xFF
	}
	return img
}

// EncodeJPEG re-encodes a frame for backends that only accept compressed input.
func EncodeJPEG(f types.Frame, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, ToImage(f), &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
