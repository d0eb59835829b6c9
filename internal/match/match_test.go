package match

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facewatch/internal/gallery"
	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/recognition"
	"github.com/andresmejia3/facewatch/internal/recognition/recognitiontest"
	"github.com/andresmejia3/facewatch/internal/types"
)

type recordSink struct {
	alerts []types.Alert
}

func (s *recordSink) Emit(a types.Alert) { s.alerts = append(s.alerts, a) }

func entry(name string, vec ...float32) gallery.Entry {
	return gallery.Entry{Name: name, Embedding: types.Embedding{Vec: vec}}
}

// scenarioA has two references for the same person, both within 0.6 of the probe.
func scenarioA() *gallery.Gallery {
	return gallery.New(entry("alice", 0, 0), entry("alice2", 0.3, 0))
}

func newTestEngine(rec recognition.Recognizer, g *gallery.Gallery, sink Emitter, policy Policy) *Engine {
	e := NewEngine(rec, g, sink, DefaultThreshold, policy)
	n := 0
	e.NewID = func() string { n++; return fmt.Sprintf("alert-%d", n) }
	e.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return e
}

func TestNoFaceSkipsExtraction(t *testing.T) {
	rec := recognitiontest.New()
	sink := &recordSink{}
	e := newTestEngine(rec, scenarioA(), sink, PolicyWatchlist)

	res, err := e.Process(recognitiontest.Tagged(1, 0))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.State != StateNoFace {
		t.Errorf("Expected NoFace, got %s", res.State)
	}
	locate, landmarks, embed := rec.Counts()
	if locate != 1 || landmarks != 0 || embed != 0 {
		t.Errorf("Expected 1/0/0 calls, got %d/%d/%d", locate, landmarks, embed)
	}
	if len(sink.alerts) != 0 || len(res.Alerts) != 0 {
		t.Error("NoFace frame must not alert")
	}
	if rec.Live != 0 {
		t.Error("Prepared image leaked")
	}
}

func TestScenarioAStrangerPolicy(t *testing.T) {
	rec := recognitiontest.New().Add(1, 0.1, 0)
	sink := &recordSink{}
	e := newTestEngine(rec, scenarioA(), sink, PolicyStranger)

	res, err := e.Process(recognitiontest.Tagged(5, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateClear || !res.Scored() {
		t.Errorf("Expected Clear, got %s", res.State)
	}
	if len(res.Distances) != 2 {
		t.Fatalf("Expected a distance for every identity, got %v", res.Distances)
	}
	for name, d := range res.Distances {
		if d >= DefaultThreshold {
			t.Errorf("%s distance %f should be below threshold", name, d)
		}
	}
	if len(sink.alerts) != 0 {
		t.Errorf("Stranger policy must not alert for close matches, got %+v", sink.alerts)
	}
}

func TestScenarioAWatchlistPolicy(t *testing.T) {
	rec := recognitiontest.New().Add(1, 0.1, 0)
	sink := &recordSink{}
	e := newTestEngine(rec, scenarioA(), sink, PolicyWatchlist)
	e.Kind = "stdout"

	res, err := e.Process(recognitiontest.Tagged(5, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateAlerted {
		t.Errorf("Expected Alerted, got %s", res.State)
	}
	if len(sink.alerts) != 2 {
		t.Fatalf("Expected 2 alerts, got %d", len(sink.alerts))
	}
	// Alerts come out in identity name order.
	if sink.alerts[0].Identity != "alice" || sink.alerts[1].Identity != "alice2" {
		t.Errorf("Unexpected alert order: %+v", sink.alerts)
	}
	for _, a := range sink.alerts {
		if a.FrameSeq != 5 || a.ID == "" || a.Kind != "stdout" {
			t.Errorf("Alert not stamped: %+v", a)
		}
	}
}

func TestStrangerAlertsOnDistantIdentity(t *testing.T) {
	rec := recognitiontest.New().Add(1, 0, 0)
	sink := &recordSink{}
	g := gallery.New(entry("alice", 0, 0), entry("bob", 3, 4))
	e := newTestEngine(rec, g, sink, PolicyStranger)

	if _, err := e.Process(recognitiontest.Tagged(1, 1)); err != nil {
		t.Fatal(err)
	}
	if len(sink.alerts) != 1 || sink.alerts[0].Identity != "bob" || sink.alerts[0].Distance != 5 {
		t.Errorf("Expected a single alert for bob at distance 5, got %+v", sink.alerts)
	}
}

func TestPolicyBoundary(t *testing.T) {
	cases := []struct {
		policy Policy
		d      float64
		want   bool
	}{
		{PolicyStranger, 0.6, false},
		{PolicyStranger, 0.6001, true},
		{PolicyWatchlist, 0.6, true},
		{PolicyWatchlist, 0.6001, false},
	}
	for _, c := range cases {
		if got := c.policy.Fires(c.d, 0.6); got != c.want {
			t.Errorf("%s.Fires(%v) = %v, want %v", c.policy, c.d, got, c.want)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicyStranger {
		t.Errorf("Empty policy should default to stranger, got %q %v", p, err)
	}
	if p, err := ParsePolicy("Watchlist"); err != nil || p != PolicyWatchlist {
		t.Errorf("ParsePolicy(Watchlist) = %q %v", p, err)
	}
	if _, err := ParsePolicy("everyone"); !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("Expected ErrUnknownPolicy, got %v", err)
	}
}

func TestOnlyFirstFaceIsEmbedded(t *testing.T) {
	rec := recognitiontest.New().Add(1, 0, 0).Add(1, 9, 9)
	e := newTestEngine(rec, scenarioA(), &recordSink{}, PolicyStranger)

	res, err := e.Process(recognitiontest.Tagged(1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Faces != 2 || res.Face != rec.Faces[1][0].Region {
		t.Errorf("Expected region 0 of 2 faces, got %v of %d", res.Face, res.Faces)
	}
	if _, landmarks, embed := rec.Counts(); landmarks != 1 || embed != 1 {
		t.Errorf("Expected one landmark and one embedding call, got %d and %d", landmarks, embed)
	}
	if res.Distances["alice"] != 0 {
		t.Errorf("Embedding should come from face 0, distance to alice = %f", res.Distances["alice"])
	}
}

func TestRecognizerErrorSkipsFrame(t *testing.T) {
	rec := recognitiontest.New().Add(1, 0, 0)
	rec.Fail[1] = errors.New("model hiccup")
	sink := &recordSink{}
	e := newTestEngine(rec, scenarioA(), sink, PolicyWatchlist)

	res, err := e.Process(recognitiontest.Tagged(3, 1))
	if err == nil {
		t.Fatal("Expected an error")
	}
	if errors.Is(err, recognition.ErrUnavailable) {
		t.Error("Per-frame failure must not look like an unavailable recognizer")
	}
	if res.Seq != 3 || res.Scored() || len(sink.alerts) != 0 {
		t.Errorf("Failed frame should not score or alert: %+v", res)
	}
}

func BenchmarkProcess(b *testing.B) {
	vec := make([]float32, 128)
	rec := recognitiontest.New().Add(1, vec...)
	entries := make([]gallery.Entry, 50)
	for i := range entries {
		v := make([]float32, 128)
		v[i%128] = float32(i) / 50
		entries[i] = entry(fmt.Sprintf("id%02d", i), v...)
	}
	e := newTestEngine(rec, gallery.New(entries...), &recordSink{}, PolicyWatchlist)
	frame := recognitiontest.Tagged(1, 1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Process(frame)
	}
}

func TestDistancesLoggedAtDefaultLevel(t *testing.T) {
	if err := logger.Init(logger.Options{Level: "info", NoColor: true}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	rec := recognitiontest.New().Add(1, 0.1, 0)
	e := newTestEngine(rec, scenarioA(), &recordSink{}, PolicyStranger)
	if _, err := e.Process(recognitiontest.Tagged(3, 1)); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"alice=0.1000", "alice2=0.2000"} {
		if !strings.Contains(out, want) {
			t.Errorf("Distance %q missing from info log:\n%s", want, out)
		}
	}
}
