// Package capturetest provides a scripted capture.Device.
package capturetest

import (
	"context"
	"sync"

	"github.com/andresmejia3/facewatch/internal/types"
)

// Device plays back Frames, then fails with End. A nil End makes Next block
// until its context is cancelled.
type Device struct {
	Name     string
	Frames   []types.Frame
	OpenErr  error
	End      error
	CloseErr error

	mu     sync.Mutex
	next   int
	opened bool
	closed bool
}

func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return d.OpenErr
	}
	d.opened = true
	return nil
}

func (d *Device) Next(ctx context.Context) (types.Frame, error) {
	d.mu.Lock()
	if d.next < len(d.Frames) {
		f := d.Frames[d.next]
		d.next++
		d.mu.Unlock()
		return f, nil
	}
	end := d.End
	d.mu.Unlock()

	if end != nil {
		return types.Frame{}, end
	}
	<-ctx.Done()
	return types.Frame{}, ctx.Err()
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return d.CloseErr
}

func (d *Device) String() string {
	if d.Name == "" {
		return "fake"
	}
	return d.Name
}

// State reports whether the device was opened and closed.
func (d *Device) State() (opened, closed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened, d.closed
}

// Blank returns n frames of w x h black pixels.
func Blank(n, w, h int) []types.Frame {
	out := make([]types.Frame, n)
	for i := range out {
		out[i] = types.Frame{Width: w, Height: h, Pix: make([]byte, w*h*types.BytesPerPixel)}
	}
	return out
}
