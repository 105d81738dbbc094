package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/strix/internal/detect"
	"github.com/oriys/strix/internal/diagnosis"
	"github.com/oriys/strix/internal/fault"
	"github.com/oriys/strix/internal/frame"
	"github.com/oriys/strix/internal/marker"
)

type fakeSource struct {
	mu  sync.Mutex
	cur *frame.BGR
}

func (s *fakeSource) push(seq uint64) {
	f := frame.NewBGR(8, 8)
	f.Seq = seq
	s.mu.Lock()
	s.cur = f
	s.mu.Unlock()
}

func (s *fakeSource) Latest() *frame.BGR {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

type fakeTrigger struct {
	mu       sync.Mutex
	enabled  bool
	allow    bool
	notReady error
	executed []int
	slow     time.Duration
	err      error
}

func (t *fakeTrigger) Enabled() bool             { t.mu.Lock(); defer t.mu.Unlock(); return t.enabled }
func (t *fakeTrigger) ShouldTrigger(id int) bool { t.mu.Lock(); defer t.mu.Unlock(); return t.allow }
func (t *fakeTrigger) CheckReady() error         { t.mu.Lock(); defer t.mu.Unlock(); return t.notReady }
func (t *fakeTrigger) CooldownRemaining(id int) time.Duration {
	return 10 * time.Second
}
func (t *fakeTrigger) Execute(ctx context.Context, id int, f *frame.BGR) (*diagnosis.Report, error) {
	t.mu.Lock()
	t.executed = append(t.executed, id)
	t.mu.Unlock()
	if t.slow > 0 {
		time.Sleep(t.slow)
	}
	if t.err != nil {
		return nil, t.err
	}
	return &diagnosis.Report{PlantID: id}, nil
}

type plantDecoder struct{ text string }

func (d plantDecoder) Decode(f *frame.BGR) ([]marker.Decoded, error) {
	return []marker.Decoded{{Text: d.text, BBox: frame.Rect{X: 1, Y: 1, W: 4, H: 4}}}, nil
}

func runPipeline(t *testing.T, p *Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()
	<-done
}

func TestPublishesOnlyNewFrames(t *testing.T) {
	src := &fakeSource{}
	src.push(1)

	var frames atomic.Int32
	p := New(src, nil, nil, nil, Events{
		Frame: func(b64 string, seq uint64) { frames.Add(1) },
	}, Options{TargetFPS: 200})

	runPipeline(t, p, 100*time.Millisecond)
	if got := frames.Load(); got != 1 {
		t.Fatalf("unchanged seq published %d times, want 1", got)
	}

	src.push(2)
	runPipeline(t, p, 50*time.Millisecond)
	if got := frames.Load(); got != 2 {
		t.Fatalf("frames = %d, want 2", got)
	}
}

func TestMarkerTriggersDiagnosisOnce(t *testing.T) {
	src := &fakeSource{}
	mk := marker.New(plantDecoder{text: "plant_5"}, time.Hour)
	trig := &fakeTrigger{enabled: true, allow: true, slow: 50 * time.Millisecond}

	var reports atomic.Int32
	p := New(src, nil, mk, trig, Events{
		DiagnosisDone: func(r *diagnosis.Report) { reports.Add(1) },
	}, Options{TargetFPS: 200})
	p.EnableMarkerDetection(true)

	// Several distinct frames, same plant. Marker cooldown is long, so the
	// detector itself debounces repeats; only the first sighting fires.
	src.push(1)
	go func() {
		for seq := uint64(2); seq < 10; seq++ {
			time.Sleep(10 * time.Millisecond)
			src.push(seq)
		}
	}()
	runPipeline(t, p, 200*time.Millisecond)

	trig.mu.Lock()
	executed := len(trig.executed)
	trig.mu.Unlock()
	if executed != 1 {
		t.Fatalf("diagnosis executed %d times, want 1", executed)
	}
	if reports.Load() != 1 {
		t.Fatalf("reports = %d, want 1", reports.Load())
	}
}

func TestCooldownEventWhenTriggerRefused(t *testing.T) {
	src := &fakeSource{}
	mk := marker.New(plantDecoder{text: "plant_9"}, time.Nanosecond)
	trig := &fakeTrigger{enabled: true, allow: false}

	var cooldowns atomic.Int32
	p := New(src, nil, mk, trig, Events{
		DiagnosisCooldown: func(id int, remaining time.Duration) {
			if id == 9 {
				cooldowns.Add(1)
			}
		},
	}, Options{TargetFPS: 200})
	p.EnableMarkerDetection(true)

	src.push(1)
	runPipeline(t, p, 80*time.Millisecond)
	if cooldowns.Load() == 0 {
		t.Fatal("refused trigger should emit a cooldown event")
	}
	trig.mu.Lock()
	defer trig.mu.Unlock()
	if len(trig.executed) != 0 {
		t.Fatal("refused trigger must not execute")
	}
}

func TestConfigNotReadyEmitsFailureWithoutExecute(t *testing.T) {
	src := &fakeSource{}
	mk := marker.New(plantDecoder{text: "plant_4"}, time.Hour)
	trig := &fakeTrigger{
		enabled:  true,
		allow:    true,
		notReady: fault.New(fault.CodeAINoVision, "model does not support vision input"),
	}

	var failures atomic.Int32
	var started atomic.Int32
	p := New(src, nil, mk, trig, Events{
		DiagnosisStarted: func(id int) { started.Add(1) },
		DiagnosisFailed: func(id int, err error) {
			if fe := fault.As(err); id == 4 && fe != nil && fe.Code == fault.CodeAINoVision {
				failures.Add(1)
			}
		},
	}, Options{TargetFPS: 200})
	p.EnableMarkerDetection(true)

	src.push(1)
	runPipeline(t, p, 80*time.Millisecond)
	if failures.Load() == 0 {
		t.Fatal("unready config should surface as a diagnosis failure")
	}
	if started.Load() != 0 {
		t.Fatal("unready config must not start a diagnosis")
	}
	trig.mu.Lock()
	defer trig.mu.Unlock()
	if len(trig.executed) != 0 {
		t.Fatal("unready config must not execute")
	}
}

type failingModel struct{}

func (failingModel) Infer(f *frame.RGB) ([]detect.Detection, error) {
	return nil, errors.New("inference exploded")
}

func TestDetectorFailureDoesNotAbortPipeline(t *testing.T) {
	src := &fakeSource{}
	src.push(1)
	object := detect.NewObjectDetector(failingModel{}, 0.5)

	var frames atomic.Int32
	p := New(src, object, nil, nil, Events{
		Frame: func(b64 string, seq uint64) { frames.Add(1) },
	}, Options{TargetFPS: 200})
	p.EnableObjectDetection(true)

	runPipeline(t, p, 80*time.Millisecond)
	if frames.Load() == 0 {
		t.Fatal("pipeline must keep publishing after detector failure")
	}
}

func TestSummaryEmitted(t *testing.T) {
	src := &fakeSource{}
	src.push(1)

	var summaries atomic.Int32
	p := New(src, nil, nil, nil, Events{
		Summary: func(s detect.Summary, markers int) { summaries.Add(1) },
	}, Options{TargetFPS: 200, SummaryInterval: 30 * time.Millisecond})

	runPipeline(t, p, 120*time.Millisecond)
	if summaries.Load() < 2 {
		t.Fatalf("summaries = %d, want >= 2", summaries.Load())
	}
}

func TestDetectionStatusToggles(t *testing.T) {
	p := New(&fakeSource{}, nil, nil, nil, Events{}, Options{})
	p.EnableObjectDetection(true)
	p.EnableMarkerDetection(true)
	obj, mk := p.DetectionStatus()
	if !obj || !mk {
		t.Fatal("toggles not reflected")
	}
	p.EnableObjectDetection(false)
	obj, _ = p.DetectionStatus()
	if obj {
		t.Fatal("object toggle should be off")
	}
}
