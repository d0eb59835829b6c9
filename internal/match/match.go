// Package match scores each frame's face against the gallery and decides
// which identities raise an alert.
package match

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/recognition"
	"github.com/andresmejia3/facewatch/internal/types"
)

// DefaultThreshold is the distance cut-off for the 128-d dlib descriptor.
const DefaultThreshold = 0.6

// Policy decides which side of the threshold raises an alert.
type Policy string

const (
	// PolicyStranger alerts for every identity the face is farther than the
	// threshold from.
	PolicyStranger Policy = "stranger"
	// PolicyWatchlist alerts for every identity the face is within the threshold of.
	PolicyWatchlist Policy = "watchlist"
)

var ErrUnknownPolicy = errors.New("unknown match policy")

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyStranger, nil
	case PolicyStranger, PolicyWatchlist:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Fires reports whether a distance raises an alert under p.
func (p Policy) Fires(distance, threshold float64) bool {
	if p == PolicyWatchlist {
		return distance <= threshold
	}
	return distance > threshold
}

// State is how far a frame got through the engine.
type State int

const (
	StateReceived State = iota
	StateLocated
	StateNoFace
	StateLandmarksExtracted
	StateEmbeddingExtracted
	StateScored
	StateAlerted
	StateClear
)

var stateNames = [...]string{"received", "located", "no-face", "landmarks", "embedding", "scored", "alerted", "clear"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Result is the outcome for one frame.
type Result struct {
	Seq       uint64
	State     State
	Face      types.FaceRegion
	Faces     int
	Distances map[string]float64
	Alerts    []types.Alert
}

// Scored reports whether the frame reached distance scoring.
func (r Result) Scored() bool {
	return r.State == StateAlerted || r.State == StateClear
}

// Emitter receives alerts. alert.Sink satisfies it.
type Emitter interface {
	Emit(a types.Alert)
}

// Engine runs the per-frame state machine. It is used by one goroutine.
type Engine struct {
	rec       recognition.Recognizer
	gallery   *gallery.Gallery
	sink      Emitter
	threshold float64
	policy    Policy
	chip      int

	// NewID returns the alert identifier. Overridden in tests.
	NewID func() string
	Now   func() time.Time
	// Kind is stamped on every alert.
	Kind string
}

func NewEngine(rec recognition.Recognizer, g *gallery.Gallery, sink Emitter, threshold float64, policy Policy) *Engine {
	if policy == "" {
		policy = PolicyStranger
	}
	return &Engine{
		rec:       rec,
		gallery:   g,
		sink:      sink,
		threshold: threshold,
		policy:    policy,
		chip:      recognition.DefaultChip,
		NewID:     newAlertID,
		Now:       time.Now,
	}
}

func (e *Engine) Threshold() float64 { return e.threshold }
func (e *Engine) Policy() Policy     { return e.policy }

// Process runs one frame. A returned error means the frame was skipped; the
// Result still reports the last state reached.
func (e *Engine) Process(f types.Frame) (Result, error) {
	res := Result{Seq: f.Seq, State: StateReceived}

	img, err := e.rec.Prepare(recognition.ViewOf(f))
	if err != nil {
		return res, fmt.Errorf("prepare frame %d: %w", f.Seq, err)
	}
	defer img.Close()

	regions, err := e.rec.LocateFaces(img)
	if err != nil {
		return res, fmt.Errorf("locate faces in frame %d: %w", f.Seq, err)
	}
	res.State = StateLocated
	res.Faces = len(regions)
	if len(regions) == 0 {
		res.State = StateNoFace
		return res, nil
	}

	res.Face = regions[0]
	logger.Info(logger.Fields{"frame": f.Seq, "time": f.CapturedAt.Format(time.RFC3339Nano), "faces": len(regions)}, "[match.Process] found a face")

	lm, err := e.rec.ExtractLandmarks(img, res.Face)
	if err != nil {
		return res, fmt.Errorf("landmarks for frame %d: %w", f.Seq, err)
	}
	res.State = StateLandmarksExtracted

	embs, err := e.rec.ExtractEmbeddings(img, []types.Landmarks{lm}, e.chip)
	if err != nil {
		return res, fmt.Errorf("embedding for frame %d: %w", f.Seq, err)
	}
	if len(embs) != 1 {
		return res, fmt.Errorf("embedding for frame %d: expected 1, got %d", f.Seq, len(embs))
	}
	res.State = StateEmbeddingExtracted

	res.Distances = e.gallery.Distances(embs[0])
	res.State = StateScored
	logger.Info(logger.Fields{"frame": f.Seq, "distances": formatDistances(res.Distances)}, "[match.Process] scored")

	for _, name := range sortedNames(res.Distances) {
		d := res.Distances[name]
		if !e.policy.Fires(d, e.threshold) {
			continue
		}
		a := types.Alert{
			ID:        e.NewID(),
			Timestamp: e.Now(),
			FrameSeq:  f.Seq,
			Identity:  name,
			Distance:  d,
			Kind:      e.Kind,
		}
		res.Alerts = append(res.Alerts, a)
		if e.sink != nil {
			e.sink.Emit(a)
		}
	}

	if len(res.Alerts) > 0 {
		res.State = StateAlerted
	} else {
		res.State = StateClear
	}
	return res, nil
}

func sortedNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func formatDistances(m map[string]float64) string {
	var b strings.Builder
	for i, n := range sortedNames(m) {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%.4f", n, m[n])
	}
	return b.String()
}
