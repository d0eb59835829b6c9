package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/facewatch/internal/types"
)

// Channel is the single-slot handoff between the capture goroutine and the consumer.
//
// At most one frame is ever buffered. Send blocks while the slot is occupied, so a
// slow consumer throttles the camera instead of growing a backlog. Only the sender
// closes the channel; a closed channel is the consumer's end-of-stream.
type Channel struct {
	ch        chan types.Frame
	closeOnce sync.Once

	sent     atomic.Uint64
	received atomic.Uint64
	blocked  atomic.Int64 // nanoseconds the producer spent waiting for the slot
}

// ChannelStats is a snapshot of the handoff counters.
type ChannelStats struct {
	Sent        uint64
	Received    uint64
	Buffered    int
	BlockedTime time.Duration
}

func NewChannel() *Channel {
	return &Channel{ch: make(chan types.Frame, 1)}
}

// Send hands a frame to the consumer, blocking until the slot is free.
// It returns ctx.Err() if the context ends first; the frame is then dropped.
func (c *Channel) Send(ctx context.Context, f types.Frame) error {
	select {
	case c.ch <- f:
		c.sent.Add(1)
		return nil
	default:
	}

	start := time.Now()
	defer func() { c.blocked.Add(int64(time.Since(start))) }()

	select {
	case c.ch <- f:
		c.sent.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks until a frame is available. ok is false once the sender has
// closed the channel and the slot is drained.
func (c *Channel) Recv() (types.Frame, bool) {
	f, ok := <-c.ch
	if ok {
		c.received.Add(1)
	}
	return f, ok
}

// Close signals end-of-stream. Only the sending side may call it.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.ch) })
}

// Len reports how many frames are buffered (0 or 1).
func (c *Channel) Len() int {
	return len(c.ch)
}

func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		Sent:        c.sent.Load(),
		Received:    c.received.Load(),
		Buffered:    len(c.ch),
		BlockedTime: time.Duration(c.blocked.Load()),
	}
}
