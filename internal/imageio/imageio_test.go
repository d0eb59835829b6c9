package imageio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

// testImage is fully opaque so every encoder round-trips it losslessly.
func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			img.Set(x, y, color.RGBA{A: 255})
		}
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	img.Set(1, 0, color.RGBA{G: 255, A: 255})
	img.Set(2, 0, color.RGBA{B: 255, A: 255})
	img.Set(0, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	return img
}

func TestToFramePacksRGB(t *testing.T) {
	f := ToFrame(testImage())

	if f.Width != 3 || f.Height != 2 {
		t.Fatalf("Expected 3x2 frame, got %dx%d", f.Width, f.Height)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("Frame invalid: %v", err)
	}
	want := []byte{255, 0, 0, 0, 255, 0, 0, 0, 255}
	if !bytes.Equal(f.Pix[:9], want) {
		t.Errorf("First row = %v, want %v", f.Pix[:9], want)
	}
	if !bytes.Equal(f.Pix[9:12], []byte{10, 20, 30}) {
		t.Errorf("Second row first pixel = %v", f.Pix[9:12])
	}
}

func TestToFrameHonoursSubImageOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.Set(2, 2, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	sub := src.SubImage(image.Rect(2, 2, 4, 4))

	f := ToFrame(sub)
	if f.Width != 2 || f.Height != 2 {
		t.Fatalf("Expected 2x2 frame, got %dx%d", f.Width, f.Height)
	}
	if !bytes.Equal(f.Pix[:3], []byte{1, 2, 3}) {
		t.Errorf("Expected sub-image origin pixel, got %v", f.Pix[:3])
	}
}

func TestDecodeFileFormats(t *testing.T) {
	dir := t.TempDir()

	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, testImage()); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "a.png"), pngBuf.Bytes(), 0644)

	var bmpBuf bytes.Buffer
	if err := bmp.Encode(&bmpBuf, testImage()); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "b.bmp"), bmpBuf.Bytes(), 0644)

	for _, name := range []string{"a.png", "b.bmp"} {
		f, err := DecodeFile(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("DecodeFile(%s) failed: %v", name, err)
			continue
		}
		if f.Width != 3 || f.Height != 2 {
			t.Errorf("DecodeFile(%s) = %dx%d, want 3x2", name, f.Width, f.Height)
		}
	}

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not an image"), 0644)
	if _, err := DecodeFile(filepath.Join(dir, "notes.txt")); err == nil {
		t.Error("Expected error decoding a text file")
	}
}

func TestJPEGRoundTripKeepsDimensions(t *testing.T) {
	f := ToFrame(testImage())
	data, err := EncodeJPEG(f, 90)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	back, err := DecodeJPEG(data)
	if err != nil {
		t.Fatalf("DecodeJPEG failed: %v", err)
	}
	if back.Width != f.Width || back.Height != f.Height {
		t.Errorf("Dimensions changed: %dx%d -> %dx%d", f.Width, f.Height, back.Width, back.Height)
	}
}
