// Package pipeline is the single frame producer: it pulls frames from the
// drone driver, runs the enabled detectors in fixed order, hands confirmed
// marker sightings to the diagnosis workflow, and publishes annotated
// frames to the control plane.
package pipeline

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/oriys/strix/internal/detect"
	"github.com/oriys/strix/internal/diagnosis"
	"github.com/oriys/strix/internal/frame"
	"github.com/oriys/strix/internal/logging"
	"github.com/oriys/strix/internal/marker"
	"github.com/oriys/strix/internal/metrics"
)

// Trigger is the slice of the diagnosis workflow the pipeline consumes.
type Trigger interface {
	Enabled() bool
	ShouldTrigger(plantID int) bool
	CheckReady() error
	CooldownRemaining(plantID int) time.Duration
	Execute(ctx context.Context, plantID int, f *frame.BGR) (*diagnosis.Report, error)
}

// FrameSource yields the most recent camera frame. Returned frames are
// immutable snapshots; the pipeline clones before drawing.
type FrameSource interface {
	Latest() *frame.BGR
}

// Events are the pipeline's output sinks. Nil members are skipped.
type Events struct {
	Frame             func(jpegBase64 string, seq uint64)
	MarkerSeen        func(obs marker.Observation)
	DiagnosisStarted  func(plantID int)
	DiagnosisDone     func(report *diagnosis.Report)
	DiagnosisFailed   func(plantID int, err error)
	DiagnosisCooldown func(plantID int, remaining time.Duration)
	Summary           func(s detect.Summary, markerCount int)
}

// Options tune the producer loop.
type Options struct {
	TargetFPS       int           // default 30
	SummaryInterval time.Duration // default 2s
	JPEGQuality     int           // default 80
	MarkerOptions   marker.Options
}

// Pipeline runs the producer loop. Detector toggles are safe to flip while
// the loop runs.
type Pipeline struct {
	source   FrameSource
	object   *detect.ObjectDetector
	marker   *marker.Detector
	workflow Trigger
	events   Events
	opts     Options

	mu            sync.Mutex
	objectEnabled bool
	markerEnabled bool
	inflight      map[int]bool
	lastSummary   time.Time
	summaryTotal  detect.Summary
	markerTotal   int
	running       bool
}

// New assembles a pipeline. Detectors and workflow may be nil; their steps
// are then skipped.
func New(source FrameSource, object *detect.ObjectDetector, mk *marker.Detector, workflow Trigger, events Events, opts Options) *Pipeline {
	if opts.TargetFPS <= 0 {
		opts.TargetFPS = 30
	}
	if opts.SummaryInterval <= 0 {
		opts.SummaryInterval = 2 * time.Second
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 80
	}
	return &Pipeline{
		source:   source,
		object:   object,
		marker:   mk,
		workflow: workflow,
		events:   events,
		opts:     opts,
		inflight: make(map[int]bool),
	}
}

// EnableObjectDetection toggles the object detector step.
func (p *Pipeline) EnableObjectDetection(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objectEnabled = on
}

// EnableMarkerDetection toggles the marker detector step.
func (p *Pipeline) EnableMarkerDetection(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markerEnabled = on
}

// DetectionStatus reports the current toggles.
func (p *Pipeline) DetectionStatus() (object, markers bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.objectEnabled, p.markerEnabled
}

// Running reports whether the producer loop is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Run is the producer loop. It paces itself toward the FPS target with a
// sleep governor and returns when ctx is cancelled. Publish order equals
// capture order; diagnosis jobs run outside this discipline.
func (p *Pipeline) Run(ctx context.Context) {
	p.mu.Lock()
	p.running = true
	p.lastSummary = time.Now()
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	interval := time.Second / time.Duration(p.opts.TargetFPS)
	var lastSeq uint64

	for {
		iterStart := time.Now()

		raw := p.source.Latest()
		if raw != nil && raw.Seq != lastSeq {
			lastSeq = raw.Seq
			p.processFrame(ctx, raw)
		}

		p.maybeSummary()

		// Governor: drop-oldest semantics come from Latest(), so the only
		// pacing concern is not spinning past the FPS target.
		sleep := interval - time.Since(iterStart)
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func (p *Pipeline) processFrame(ctx context.Context, raw *frame.BGR) {
	p.mu.Lock()
	objectOn := p.objectEnabled
	markerOn := p.markerEnabled
	p.mu.Unlock()

	annotated := raw.Clone()
	metrics.RecordFrame()

	if objectOn && p.object != nil {
		_, summary, err := p.object.Detect(annotated)
		if err != nil {
			logging.Op("pipeline.object").Warn("object detector failed, skipping", "error", err)
		} else {
			metrics.RecordDetections(summary.Counts)
			p.mu.Lock()
			if p.summaryTotal.Counts == nil {
				p.summaryTotal.Counts = make(map[string]int)
			}
			for k, v := range summary.Counts {
				p.summaryTotal.Counts[k] += v
			}
			p.summaryTotal.Total += summary.Total
			p.mu.Unlock()
		}
	}

	if markerOn && p.marker != nil {
		_, observations := p.marker.Detect(annotated, p.opts.MarkerOptions)
		p.mu.Lock()
		p.markerTotal += len(observations)
		p.mu.Unlock()
		for _, obs := range observations {
			metrics.RecordMarkerDecoded(false)
			if p.events.MarkerSeen != nil {
				p.events.MarkerSeen(obs)
			}
			if obs.PlantID != nil {
				p.maybeDiagnose(ctx, *obs.PlantID, raw)
			}
		}
	}

	p.publish(annotated)
}

// maybeDiagnose submits at most one asynchronous diagnosis job per plant
// sighting. The job gets a deep copy of the pre-annotation frame.
func (p *Pipeline) maybeDiagnose(ctx context.Context, plantID int, raw *frame.BGR) {
	if p.workflow == nil || !p.workflow.Enabled() {
		return
	}
	if !p.workflow.ShouldTrigger(plantID) {
		if remaining := p.workflow.CooldownRemaining(plantID); remaining > 0 && p.events.DiagnosisCooldown != nil {
			p.events.DiagnosisCooldown(plantID, remaining)
		}
		return
	}
	// Pre-flight: a missing or non-vision configuration is reported per
	// sighting instead of silently swallowing the trigger.
	if err := p.workflow.CheckReady(); err != nil {
		logging.Op("pipeline.diagnosis").Warn("diagnosis config not ready",
			"plant_id", plantID, "error", err)
		if p.events.DiagnosisFailed != nil {
			p.events.DiagnosisFailed(plantID, err)
		}
		return
	}

	p.mu.Lock()
	if p.inflight[plantID] {
		p.mu.Unlock()
		return
	}
	p.inflight[plantID] = true
	p.mu.Unlock()

	if p.events.DiagnosisStarted != nil {
		p.events.DiagnosisStarted(plantID)
	}

	job := raw.Clone()
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.inflight, plantID)
			p.mu.Unlock()
		}()
		report, err := p.workflow.Execute(ctx, plantID, job)
		if err != nil {
			logging.Op("pipeline.diagnosis").Error("diagnosis failed",
				"plant_id", plantID, "error", err)
			if p.events.DiagnosisFailed != nil {
				p.events.DiagnosisFailed(plantID, err)
			}
			return
		}
		if p.events.DiagnosisDone != nil {
			p.events.DiagnosisDone(report)
		}
	}()
}

func (p *Pipeline) publish(annotated *frame.BGR) {
	if p.events.Frame == nil {
		return
	}
	jpeg, err := annotated.ToRGB().EncodeJPEG(p.opts.JPEGQuality)
	if err != nil {
		logging.Op("pipeline.publish").Warn("frame encode failed", "error", err)
		return
	}
	p.events.Frame(base64.StdEncoding.EncodeToString(jpeg), annotated.Seq)
}

func (p *Pipeline) maybeSummary() {
	p.mu.Lock()
	due := time.Since(p.lastSummary) >= p.opts.SummaryInterval
	if !due {
		p.mu.Unlock()
		return
	}
	summary := p.summaryTotal
	markers := p.markerTotal
	p.summaryTotal = detect.Summary{}
	p.markerTotal = 0
	p.lastSummary = time.Now()
	p.mu.Unlock()

	if p.events.Summary != nil {
		p.events.Summary(summary, markers)
	}
}
