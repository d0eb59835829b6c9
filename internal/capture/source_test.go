package capture

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/andresmejia3/facewatch/internal/capture/capturetest"
)

func TestStartFailsWhenNegotiationFails(t *testing.T) {
	dev := &capturetest.Device{Name: "cam0", OpenErr: errors.New("VIDIOC_S_FMT: invalid argument")}
	src := NewSource(dev, 0)

	ch, err := src.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if ch != nil {
		t.Error("No channel should be returned on failure")
	}
	select {
	case <-src.Done():
	default:
		t.Error("Capture goroutine should have exited")
	}
	if _, closed := dev.State(); closed {
		t.Error("A device that never opened must not be closed")
	}
}

// A device that dies after N frames yields exactly N frames, in order, then end-of-stream.
func TestDeviceFailureEndsStream(t *testing.T) {
	const n = 7
	devErr := errors.New("device unplugged")
	dev := &capturetest.Device{Frames: capturetest.Blank(n, 4, 2), End: devErr}
	src := NewSource(dev, 3)

	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var seqs []uint64
	for {
		f, ok := ch.Recv()
		if !ok {
			break
		}
		seqs = append(seqs, f.Seq)
		if f.CapturedAt.IsZero() {
			t.Errorf("Frame %d has no capture time", f.Seq)
		}
	}

	if len(seqs) != n {
		t.Fatalf("Expected %d frames, got %d", n, len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("Frame %d has seq %d", i, s)
		}
	}

	<-src.Done()
	if !errors.Is(src.Err(), devErr) {
		t.Errorf("Expected terminal error %v, got %v", devErr, src.Err())
	}
	if src.Frames() != n {
		t.Errorf("Frames() = %d", src.Frames())
	}
	if _, closed := dev.State(); !closed {
		t.Error("Device was not closed")
	}
}

func TestCancelClosesStream(t *testing.T) {
	dev := &capturetest.Device{Frames: capturetest.Blank(2, 2, 2)}
	src := NewSource(dev, 0)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := src.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, ok := ch.Recv(); !ok {
			t.Fatal("Stream ended early")
		}
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for {
			if _, ok := ch.Recv(); !ok {
				close(done)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not close after cancel")
	}
	if err := src.Err(); err != nil {
		t.Errorf("Cancellation should not be reported as an error, got %v", err)
	}
}

func TestSlowConsumerThrottlesProducer(t *testing.T) {
	dev := &capturetest.Device{Frames: capturetest.Blank(5, 2, 2), End: io.EOF}
	src := NewSource(dev, 0)
	ch, err := src.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// With nobody reading, the producer can get at most one frame into the slot
	// and one more in hand.
	time.Sleep(50 * time.Millisecond)
	if got := src.Frames(); got > 2 {
		t.Errorf("Producer ran ahead of the consumer: %d frames captured", got)
	}
	if ch.Len() > 1 {
		t.Errorf("Channel holds %d frames", ch.Len())
	}

	count := 0
	for {
		if _, ok := ch.Recv(); !ok {
			break
		}
		count++
	}
	if count != 5 {
		t.Errorf("Expected 5 frames, got %d", count)
	}
}
