package detect

import (
	"errors"
	"testing"

	"github.com/oriys/strix/internal/frame"
)

type stubModel struct {
	detections []Detection
	err        error
	calls      int
}

func (m *stubModel) Infer(f *frame.RGB) ([]Detection, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.detections, nil
}

func TestNilModelIsNoOp(t *testing.T) {
	d := NewObjectDetector(nil, 0.5)
	in := frame.NewBGR(32, 32)
	out, summary, err := d.Detect(in)
	if err != nil {
		t.Fatalf("nil model returned error: %v", err)
	}
	if out != in {
		t.Fatal("nil model should return the input frame")
	}
	if summary.Total != 0 || len(summary.Counts) != 0 {
		t.Fatalf("nil model summary = %+v", summary)
	}
}

func TestConfidenceFiltering(t *testing.T) {
	m := &stubModel{detections: []Detection{
		{ClassID: 0, ClassName: "strawberry", BBox: frame.Rect{X: 1, Y: 1, W: 5, H: 5}, Confidence: 0.9},
		{ClassID: 0, ClassName: "strawberry", BBox: frame.Rect{X: 10, Y: 10, W: 5, H: 5}, Confidence: 0.3},
		{ClassID: 1, ClassName: "leaf", BBox: frame.Rect{X: 20, Y: 20, W: 5, H: 5}, Confidence: 0.7},
	}}
	d := NewObjectDetector(m, 0.5)
	_, summary, err := d.Detect(frame.NewBGR(32, 32))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 2 {
		t.Fatalf("total = %d, want 2", summary.Total)
	}
	if summary.Counts["strawberry"] != 1 || summary.Counts["leaf"] != 1 {
		t.Fatalf("counts = %v", summary.Counts)
	}
}

func TestModelErrorPropagates(t *testing.T) {
	m := &stubModel{err: errors.New("inference failed")}
	d := NewObjectDetector(m, 0.5)
	_, summary, err := d.Detect(frame.NewBGR(16, 16))
	if err == nil {
		t.Fatal("expected error from model")
	}
	if summary.Total != 0 {
		t.Fatal("failed inference must not count detections")
	}
}

func TestSetModelSwapsAtRuntime(t *testing.T) {
	d := NewObjectDetector(nil, 0.5)
	m := &stubModel{detections: []Detection{
		{ClassName: "strawberry", BBox: frame.Rect{W: 4, H: 4}, Confidence: 0.8},
	}}
	d.SetModel(m)
	_, summary, _ := d.Detect(frame.NewBGR(16, 16))
	if summary.Total != 1 {
		t.Fatalf("total after swap = %d, want 1", summary.Total)
	}

	d.SetModel(nil)
	_, summary, _ = d.Detect(frame.NewBGR(16, 16))
	if summary.Total != 0 {
		t.Fatal("nil model after swap should detect nothing")
	}
	if m.calls != 1 {
		t.Fatalf("model calls = %d, want 1", m.calls)
	}
}

func TestAnnotationDrawnOnFrame(t *testing.T) {
	m := &stubModel{detections: []Detection{
		{ClassID: 0, ClassName: "strawberry", BBox: frame.Rect{X: 2, Y: 2, W: 6, H: 6}, Confidence: 0.9},
	}}
	d := NewObjectDetector(m, 0.5)
	f := frame.NewBGR(16, 16)
	out, _, _ := d.Detect(f)

	// Top-left corner of the box carries palette color 0 (BGR 0,200,0).
	i := (2*16 + 2) * 3
	if out.Pix[i] != 0 || out.Pix[i+1] != 200 || out.Pix[i+2] != 0 {
		t.Fatalf("pixel at box corner = %v", out.Pix[i:i+3])
	}
}

func TestNegativeClassIDDoesNotPanic(t *testing.T) {
	m := &stubModel{detections: []Detection{
		{ClassID: -3, ClassName: "unknown", BBox: frame.Rect{X: 1, Y: 1, W: 5, H: 5}, Confidence: 0.9},
	}}
	d := NewObjectDetector(m, 0.5)
	_, summary, err := d.Detect(frame.NewBGR(32, 32))
	if err != nil {
		t.Fatal(err)
	}
	if summary.Counts["unknown"] != 1 {
		t.Fatalf("counts = %v", summary.Counts)
	}
}
