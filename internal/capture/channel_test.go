package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresmejia3/facewatch/internal/types"
)

func TestChannelHoldsOneFrame(t *testing.T) {
	c := NewChannel()
	ctx := context.Background()

	if err := c.Send(ctx, types.Frame{Seq: 1}); err != nil {
		t.Fatalf("First send should not block: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("Expected 1 buffered frame, got %d", c.Len())
	}

	// The slot is full, so the second send must block until the context expires.
	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := c.Send(tctx, types.Frame{Seq: 2}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected blocked send to time out, got %v", err)
	}
	if c.Len() != 1 {
		t.Errorf("Buffered frames grew to %d", c.Len())
	}
	if st := c.Stats(); st.BlockedTime < 40*time.Millisecond {
		t.Errorf("Blocked time not recorded: %v", st.BlockedTime)
	}
}

func TestChannelSendUnblocksOnRecv(t *testing.T) {
	c := NewChannel()
	ctx := context.Background()
	c.Send(ctx, types.Frame{Seq: 1})

	sent := make(chan error, 1)
	go func() { sent <- c.Send(ctx, types.Frame{Seq: 2}) }()

	select {
	case <-sent:
		t.Fatal("Send returned while the slot was occupied")
	case <-time.After(30 * time.Millisecond):
	}

	if f, ok := c.Recv(); !ok || f.Seq != 1 {
		t.Fatalf("Expected frame 1, got %d %v", f.Seq, ok)
	}
	if err := <-sent; err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if f, ok := c.Recv(); !ok || f.Seq != 2 {
		t.Fatalf("Expected frame 2, got %d %v", f.Seq, ok)
	}
}

func TestChannelOrderAndEndOfStream(t *testing.T) {
	c := NewChannel()
	const n = 200

	go func() {
		defer c.Close()
		for i := uint64(1); i <= n; i++ {
			if err := c.Send(context.Background(), types.Frame{Seq: i}); err != nil {
				return
			}
		}
	}()

	var last uint64
	count := 0
	for {
		if l := c.Len(); l > 1 {
			t.Fatalf("Channel buffered %d frames", l)
		}
		f, ok := c.Recv()
		if !ok {
			break
		}
		if f.Seq != last+1 {
			t.Fatalf("Expected seq %d, got %d", last+1, f.Seq)
		}
		last = f.Seq
		count++
	}
	if count != n {
		t.Errorf("Received %d frames, want %d", count, n)
	}
	st := c.Stats()
	if st.Sent != n || st.Received != n {
		t.Errorf("Stats = %+v", st)
	}

	// Close is idempotent and Recv keeps reporting end-of-stream.
	c.Close()
	if _, ok := c.Recv(); ok {
		t.Error("Recv after close should report end-of-stream")
	}
}

func BenchmarkChannelHandoff(b *testing.B) {
	c := NewChannel()
	ctx := context.Background()
	f := types.Frame{Width: 640, Height: 480}

	go func() {
		defer c.Close()
		for i := 0; i < b.N; i++ {
			c.Send(ctx, f)
		}
	}()
	for {
		if _, ok := c.Recv(); !ok {
			return
		}
	}
}
