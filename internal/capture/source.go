package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/types"
)

// ErrDeviceUnavailable is returned by Start when device negotiation fails.
var ErrDeviceUnavailable = errors.New("device unavailable")

// DefaultLogEvery is how often the capture loop logs frame geometry.
const DefaultLogEvery = 100

// Device is a camera (or camera-like) frame producer.
//
// Open performs the one-time negotiation with the requested parameters. Next blocks
// until the driver delivers a frame; any error it returns is treated as unrecoverable.
// A Device is used by exactly one goroutine.
type Device interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (types.Frame, error)
	Close() error
	String() string
}

// Source owns the capture goroutine and the sending side of its Channel.
type Source struct {
	dev      Device
	logEvery int
	ch       *Channel

	mu     sync.Mutex
	err    error
	frames uint64
	done   chan struct{}
}

// NewSource wraps a device. logEvery <= 0 selects DefaultLogEvery.
func NewSource(dev Device, logEvery int) *Source {
	if logEvery <= 0 {
		logEvery = DefaultLogEvery
	}
	return &Source{
		dev:      dev,
		logEvery: logEvery,
		ch:       NewChannel(),
		done:     make(chan struct{}),
	}
}

// Start negotiates with the device and, on success, returns the channel the
// capture goroutine feeds. On failure the goroutine has already exited, the
// channel is closed and the error wraps ErrDeviceUnavailable.
func (s *Source) Start(ctx context.Context) (*Channel, error) {
	ready := make(chan error, 1)
	go s.run(ctx, ready)

	if err := <-ready; err != nil {
		<-s.done
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, s.dev, err)
	}
	return s.ch, nil
}

// Err is the terminal capture error, valid after the channel reports end-of-stream.
// Context cancellation is reported as nil.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Frames is the number of frames captured so far.
func (s *Source) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Done is closed when the capture goroutine has exited.
func (s *Source) Done() <-chan struct{} {
	return s.done
}

func (s *Source) run(ctx context.Context, ready chan<- error) {
	defer close(s.done)
	defer s.ch.Close()

	if err := s.dev.Open(ctx); err != nil {
		ready <- err
		return
	}
	defer func() {
		if err := s.dev.Close(); err != nil {
			logger.Warn(logger.Fields{"device": s.dev.String(), "error": err.Error()}, "[capture.Source] device close failed")
		}
	}()
	ready <- nil

	logger.Info(logger.Fields{"device": s.dev.String()}, "[capture.Source] stream opened")

	var seq uint64
	for {
		frame, err := s.dev.Next(ctx)
		if err != nil {
			s.finish(ctx, seq, err)
			return
		}

		if seq%uint64(s.logEvery) == 0 {
			logger.Info(logger.Fields{
				"width":  frame.Width,
				"height": frame.Height,
				"size":   frame.Len(),
				"seq":    seq + 1,
			}, "[capture.Source] captured frame")
		}

		seq++
		frame.Seq = seq
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = time.Now()
		}

		s.mu.Lock()
		s.frames = seq
		s.mu.Unlock()

		if err := s.ch.Send(ctx, frame); err != nil {
			s.finish(ctx, seq, err)
			return
		}
	}
}

func (s *Source) finish(ctx context.Context, seq uint64, err error) {
	if ctx.Err() != nil {
		logger.Info(logger.Fields{"frames": seq}, "[capture.Source] capture cancelled")
		return
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	logger.Warn(logger.Fields{
		"device": s.dev.String(),
		"frames": seq,
		"error":  err.Error(),
	}, "[capture.Source] device stopped, closing stream")
}
