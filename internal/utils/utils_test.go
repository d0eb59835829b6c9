package utils

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// The trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
}

func TestSplitJpegBackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}

	scanner := bufio.NewScanner(bytes.NewReader(append(append([]byte{}, a...), b...)))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte(nil), scanner.Bytes()...))
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Frames split incorrectly: %X", got)
	}
}

func TestFileDigest(t *testing.T) {
	tmp, err := os.CreateTemp("", "reference_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake image content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := FileDigest(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to compute digest: %v", err)
	}

	// Verify Determinism
	id2, _ := FileDigest(tmp.Name())
	if id != id2 {
		t.Errorf("Digest is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change digest)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := FileDigest(tmp.Name())
	if id == id3 {
		t.Error("Digest did not change after file modification")
	}

	if _, err := FileDigest("/nonexistent/reference.jpg"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestErrorBoxIncludesChildLogs(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "true")
	cmd.Stderr.Write([]byte("Traceback: model not found"))

	var out bytes.Buffer
	writeErrorBox(&out, "Worker startup failed", errors.New("exit status 1"), cmd)

	for _, want := range []string{"Worker startup failed", "exit status 1", "Traceback: model not found"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Expected error box to contain %q, got:\n%s", want, out.String())
		}
	}
}
