// Package detect defines the object-detector plugin run by the frame
// pipeline. The trained model is a plugin; this package owns confidence
// filtering, annotation and the per-frame summary.
package detect

import (
	"sync"

	"github.com/oriys/strix/internal/frame"
)

// Detection is one model hit in full-frame coordinates.
type Detection struct {
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	BBox       frame.Rect `json:"bbox"`
	Confidence float64    `json:"confidence"`
}

// Summary maps class label to count for one frame.
type Summary struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// Model runs inference. It receives an inference-native frame; the
// conversion from camera order happens inside the detector, per the
// channel-order contract.
type Model interface {
	Infer(f *frame.RGB) ([]Detection, error)
}

// ObjectDetector wraps a Model with thresholds and annotation. A detector
// with a nil model is a legal no-op: it returns the input frame unchanged
// and an empty summary.
type ObjectDetector struct {
	mu            sync.Mutex
	model         Model
	minConfidence float64
	palette       []frame.Color
}

// NewObjectDetector creates a detector. minConfidence <= 0 defaults to 0.5.
func NewObjectDetector(model Model, minConfidence float64) *ObjectDetector {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	return &ObjectDetector{
		model:         model,
		minConfidence: minConfidence,
		palette: []frame.Color{
			{0, 200, 0},
			{0, 140, 255},
			{255, 0, 0},
			{0, 0, 255},
			{255, 0, 255},
			{0, 255, 255},
		},
	}
}

// SetModel swaps the inference model at runtime. nil disables detection.
func (d *ObjectDetector) SetModel(m Model) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.model = m
}

// Detect runs inference on the frame, draws annotations in place and
// returns the summary. Camera-native in, camera-native out.
func (d *ObjectDetector) Detect(f *frame.BGR) (*frame.BGR, Summary, error) {
	d.mu.Lock()
	model := d.model
	minConf := d.minConfidence
	d.mu.Unlock()

	summary := Summary{Counts: make(map[string]int)}
	if model == nil {
		return f, summary, nil
	}

	detections, err := model.Infer(f.ToRGB())
	if err != nil {
		return f, summary, err
	}

	for _, det := range detections {
		if det.Confidence < minConf {
			continue
		}
		idx := det.ClassID % len(d.palette)
		if idx < 0 {
			idx += len(d.palette)
		}
		color := d.palette[idx]
		f.DrawRect(det.BBox.Clip(f.Width, f.Height), color, 2)
		summary.Counts[det.ClassName]++
		summary.Total++
	}
	return f, summary, nil
}
