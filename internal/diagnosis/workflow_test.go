package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/oriys/strix/internal/fault"
	"github.com/oriys/strix/internal/frame"
	"github.com/oriys/strix/internal/segment"
	"github.com/oriys/strix/internal/vlm"
)

type fakeProvider struct {
	maskPrompt    string
	maskPromptErr error
	report        string
	reportErr     error
	diagnoseCalls int
	gotMask       string
	gotPrompt     string
}

func (p *fakeProvider) GenerateMaskPrompt(ctx context.Context, imageJPEG []byte) (string, error) {
	if p.maskPromptErr != nil {
		return "", p.maskPromptErr
	}
	return p.maskPrompt, nil
}

func (p *fakeProvider) Diagnose(ctx context.Context, plantID int, imageJPEG []byte, maskB64, maskDesc, maskPrompt string) (string, error) {
	p.diagnoseCalls++
	p.gotMask = maskB64
	p.gotPrompt = maskPrompt
	if p.reportErr != nil {
		return "", p.reportErr
	}
	return p.report, nil
}

func (p *fakeProvider) Config() vlm.Config { return vlm.Config{SupportsVision: true} }

type fakeMasker struct {
	result    segment.Result
	available bool
}

func (m *fakeMasker) IsAvailable(ctx context.Context) bool { return m.available }
func (m *fakeMasker) Segment(ctx context.Context, f *frame.BGR, query string, n int, cb segment.ProgressFunc) segment.Result {
	return m.result
}

const fakeReport = "## Summary\nhealthy-ish\n\n## Severity\n低, 90%\n"

func newTestWorkflow(p *fakeProvider, m Masker) *Workflow {
	w := New(m, 30*time.Second, 100)
	w.newProvider = func(cfg vlm.Config) (Provider, error) { return p, nil }
	if err := w.SetAIConfig(vlm.Config{
		Provider: "openai", Model: "gpt-4o", APIKey: "sk-0123456789abcdef0123",
	}); err != nil {
		panic(err)
	}
	w.Enable()
	return w
}

func TestExecuteHappyPath(t *testing.T) {
	p := &fakeProvider{maskPrompt: "red spots", report: fakeReport}
	m := &fakeMasker{result: segment.Result{
		Success: true, MaskBase64: "bWFzaw==", Description: "red blob",
		Metadata: map[string]any{"method": "remote"},
	}}
	w := newTestWorkflow(p, m)

	var events []string
	w.SetProgressFunc(func(id, stage int, msg string, pct int) {
		events = append(events, fmt.Sprintf("%d:%d", stage, pct))
	})

	report, err := w.Execute(context.Background(), 7, frame.NewBGR(8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if report.Severity != "low" || report.Confidence != 0.9 {
		t.Fatalf("parsed: severity=%q confidence=%v", report.Severity, report.Confidence)
	}
	if report.MaskImageBase64 != "bWFzaw==" || report.MaskMethod != "remote" {
		t.Fatalf("mask fields: %+v", report)
	}
	if p.gotPrompt != "red spots" {
		t.Fatalf("mask prompt forwarded as %q", p.gotPrompt)
	}
	if report.DiagnosisID == "" || report.PlantID != 7 {
		t.Fatalf("identity: %+v", report)
	}

	// Entry and exit progress for each stage, ending at 100.
	if len(events) == 0 || events[len(events)-1] != "3:100" {
		t.Fatalf("progress events: %v", events)
	}

	if w.ShouldTrigger(7) {
		t.Fatal("cooldown should be active after success")
	}
	if !w.ShouldTrigger(8) {
		t.Fatal("other plants are unaffected by 7's cooldown")
	}
	if len(w.History(0)) != 1 {
		t.Fatal("report not recorded in history")
	}
}

func TestStage1FailureUsesDefaultPrompt(t *testing.T) {
	p := &fakeProvider{maskPromptErr: errors.New("provider hiccup"), report: fakeReport}
	w := newTestWorkflow(p, nil)

	report, err := w.Execute(context.Background(), 1, frame.NewBGR(8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if report.MaskPrompt != "diseased region" {
		t.Fatalf("mask prompt = %q", report.MaskPrompt)
	}
}

func TestStage2FailureProceedsWithoutMask(t *testing.T) {
	p := &fakeProvider{maskPrompt: "spots", report: fakeReport}
	m := &fakeMasker{result: segment.Result{Error: "service down"}}
	w := newTestWorkflow(p, m)

	report, err := w.Execute(context.Background(), 1, frame.NewBGR(8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if report.MaskImageBase64 != "" || p.gotMask != "" {
		t.Fatal("failed mask stage must not attach a mask")
	}
}

func TestStage3FailureSkipsCooldown(t *testing.T) {
	p := &fakeProvider{maskPrompt: "spots", reportErr: errors.New("quota exceeded")}
	w := newTestWorkflow(p, nil)

	if _, err := w.Execute(context.Background(), 5, frame.NewBGR(8, 8)); err == nil {
		t.Fatal("stage 3 failure must surface")
	}
	if !w.ShouldTrigger(5) {
		t.Fatal("failed diagnosis must not start the cooldown")
	}
	if len(w.History(0)) != 0 {
		t.Fatal("failed diagnosis must not be recorded")
	}
}

func TestShouldTriggerGates(t *testing.T) {
	p := &fakeProvider{maskPrompt: "x", report: fakeReport}
	w := New(nil, 30*time.Second, 100)
	w.newProvider = func(cfg vlm.Config) (Provider, error) { return p, nil }

	if w.ShouldTrigger(1) {
		t.Fatal("disabled workflow must not trigger")
	}
	w.Enable()
	// Triggering is independent of configuration; readiness is reported
	// separately so a broken config surfaces as an error event.
	if !w.ShouldTrigger(1) {
		t.Fatal("enabled workflow should trigger")
	}
	if err := w.CheckReady(); err == nil {
		t.Fatal("unconfigured workflow must not be ready")
	}
	if err := w.SetAIConfig(vlm.Config{
		Provider: "openai", Model: "gpt-4o", APIKey: "sk-0123456789abcdef0123",
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.CheckReady(); err != nil {
		t.Fatalf("configured workflow should be ready: %v", err)
	}
	w.Disable()
	if w.ShouldTrigger(1) {
		t.Fatal("disable must refuse subsequent triggers")
	}
}

func TestNonVisionConfigRefusedAtTrigger(t *testing.T) {
	p := &fakeProvider{maskPrompt: "x", report: fakeReport}
	w := New(nil, 30*time.Second, 100)
	w.newProvider = func(cfg vlm.Config) (Provider, error) { return p, nil }
	w.Enable()

	// A text-only model installs cleanly and is classified, not rejected.
	if err := w.SetAIConfig(vlm.Config{
		Provider: "openai", Model: "gpt-3.5-turbo", APIKey: "sk-0123456789abcdef0123",
	}); err != nil {
		t.Fatalf("non-vision config should install: %v", err)
	}
	state, _ := w.ConfigStatus()
	if state != vlm.ConfigNoVision {
		t.Fatalf("state = %s, want %s", state, vlm.ConfigNoVision)
	}

	err := w.CheckReady()
	fe := fault.As(err)
	if fe == nil || fe.Code != fault.CodeAINoVision {
		t.Fatalf("CheckReady = %v, want no-vision fault", err)
	}
	if _, err := w.Execute(context.Background(), 4, frame.NewBGR(4, 4)); fault.As(err) == nil || fault.As(err).Code != fault.CodeAINoVision {
		t.Fatalf("Execute = %v, want no-vision fault", err)
	}
	if p.diagnoseCalls != 0 {
		t.Fatal("provider must not be called with a non-vision config")
	}
}

func TestCooldownExpires(t *testing.T) {
	p := &fakeProvider{maskPrompt: "x", report: fakeReport}
	w := newTestWorkflow(p, nil)
	base := time.Unix(5000, 0)
	w.now = func() time.Time { return base }

	if _, err := w.Execute(context.Background(), 3, frame.NewBGR(8, 8)); err != nil {
		t.Fatal(err)
	}
	if w.ShouldTrigger(3) {
		t.Fatal("cooldown active")
	}
	base = base.Add(31 * time.Second)
	if !w.ShouldTrigger(3) {
		t.Fatal("cooldown should have expired")
	}
}

func TestHistoryBounded(t *testing.T) {
	p := &fakeProvider{maskPrompt: "x", report: fakeReport}
	w := New(nil, time.Nanosecond, 3)
	w.newProvider = func(cfg vlm.Config) (Provider, error) { return p, nil }
	w.SetAIConfig(vlm.Config{Provider: "openai", Model: "gpt-4o", APIKey: "sk-0123456789abcdef0123"})
	w.Enable()

	for i := 0; i < 10; i++ {
		if _, err := w.Execute(context.Background(), i, frame.NewBGR(4, 4)); err != nil {
			t.Fatal(err)
		}
	}
	h := w.History(0)
	if len(h) != 3 {
		t.Fatalf("history len = %d, want 3", len(h))
	}
	if h[2].PlantID != 9 {
		t.Fatal("history should keep the newest reports")
	}
	if got := w.History(2); len(got) != 2 || got[1].PlantID != 9 {
		t.Fatalf("limited history: %+v", got)
	}
}

func TestSetAIConfigRejectsInvalid(t *testing.T) {
	w := New(nil, time.Second, 10)
	err := w.SetAIConfig(vlm.Config{Provider: "openai", Model: "gpt-4o", APIKey: "bad"})
	if err == nil {
		t.Fatal("invalid key accepted")
	}
	state, _ := w.ConfigStatus()
	if state != vlm.ConfigUnconfigured {
		t.Fatalf("state after rejected config = %s", state)
	}
}

func TestConfigStatusMasksKey(t *testing.T) {
	p := &fakeProvider{}
	w := newTestWorkflow(p, nil)
	state, cfg := w.ConfigStatus()
	if state != vlm.ConfigOK {
		t.Fatalf("state = %s", state)
	}
	if cfg == nil || cfg.APIKey == "sk-0123456789abcdef0123" {
		t.Fatal("config status must mask the key")
	}
}
