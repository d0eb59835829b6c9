// Package alert delivers match alerts.
package alert

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/types"
)

// Kind names an alert delivery channel.
type Kind string

const (
	KindStdout Kind = "stdout"
	KindEmail  Kind = "email"
	KindSound  Kind = "sound"
)

var ErrUnsupportedKind = errors.New("unsupported alert kind")

// ParseKind accepts the CLI spelling. It does not check support; see NewSink.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindStdout, nil
	case KindStdout, KindEmail, KindSound:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// Sink receives alerts. Emit is synchronous and never fails the caller.
type Sink interface {
	Emit(a types.Alert)
}

// NewSink returns the sink for kind writing to w. Only stdout is implemented.
func NewSink(kind Kind, w io.Writer) (Sink, error) {
	switch kind {
	case KindStdout, "":
		return NewConsoleSink(w), nil
	case KindEmail, KindSound:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
}

// ConsoleSink prints one line per alert.
type ConsoleSink struct {
	mu      sync.Mutex
	w       io.Writer
	emitted uint64
	failed  uint64
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Emit(a types.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintln(s.w, Format(a)); err != nil {
		s.failed++
		logger.Warn(logger.Fields{"alert": a.ID, "error": err.Error()}, "[alert.ConsoleSink] write failed")
		return
	}
	s.emitted++
}

// Counts returns how many alerts were written and how many writes failed.
func (s *ConsoleSink) Counts() (emitted, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted, s.failed
}

// Format renders the console line for an alert.
func Format(a types.Alert) string {
	return fmt.Sprintf("🚨 ALERT %s frame=%d identity=%q distance=%.4f id=%s",
		a.Timestamp.Format(time.RFC3339), a.FrameSeq, a.Identity, a.Distance, a.ID)
}
