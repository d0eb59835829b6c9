// Package pipeline is the consumer side of the capture-to-alert stream.
package pipeline

import (
	"errors"
	"time"

	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/match"
	"github.com/andresmejia3/facewatch/internal/recognition"
	"github.com/andresmejia3/facewatch/internal/types"
)

// DefaultPrintEvery is how often the consumer logs a frame diagnostic.
const DefaultPrintEvery = 10

// Frames is the receiving side of the capture channel.
type Frames interface {
	Recv() (types.Frame, bool)
}

// Processor scores one frame. *match.Engine implements it.
type Processor interface {
	Process(f types.Frame) (match.Result, error)
}

type Options struct {
	// PrintEvery logs frame geometry every N received frames. <= 0 disables it.
	PrintEvery int
	// OnResult, if set, is called for every frame that was processed.
	OnResult func(match.Result)
}

// Stats summarises a run.
type Stats struct {
	Frames  uint64
	NoFace  uint64
	Scored  uint64
	Alerts  uint64
	Skipped uint64
	LastSeq uint64
	Elapsed time.Duration
}

// Run consumes frames until end-of-stream. It returns early only when the
// recognizer becomes unavailable; the caller must then cancel the capture
// context so the producer stops.
func Run(frames Frames, proc Processor, opts Options) (Stats, error) {
	var st Stats
	start := time.Now()

	for {
		f, ok := frames.Recv()
		if !ok {
			st.Elapsed = time.Since(start)
			logger.Info(logger.Fields{
				"frames":  st.Frames,
				"scored":  st.Scored,
				"alerts":  st.Alerts,
				"skipped": st.Skipped,
			}, "[pipeline.Run] stream closed")
			return st, nil
		}

		st.Frames++
		if f.Seq <= st.LastSeq {
			logger.Error(logger.Fields{"seq": f.Seq, "last": st.LastSeq}, "[pipeline.Run] out of order frame")
		}
		st.LastSeq = f.Seq

		if opts.PrintEvery > 0 && st.Frames%uint64(opts.PrintEvery) == 0 {
			logger.Info(logger.Fields{
				"seq":    f.Seq,
				"width":  f.Width,
				"height": f.Height,
				"size":   f.Len(),
			}, "[pipeline.Run] frame")
		}

		res, err := proc.Process(f)
		if err != nil {
			if errors.Is(err, recognition.ErrUnavailable) {
				st.Elapsed = time.Since(start)
				return st, err
			}
			st.Skipped++
			logger.Warn(logger.Fields{"seq": f.Seq, "error": err.Error()}, "[pipeline.Run] frame skipped")
			continue
		}

		switch {
		case res.State == match.StateNoFace:
			st.NoFace++
		case res.Scored():
			st.Scored++
			st.Alerts += uint64(len(res.Alerts))
		}
		if opts.OnResult != nil {
			opts.OnResult(res)
		}
	}
}
