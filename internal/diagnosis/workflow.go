// Package diagnosis runs the marker-triggered diagnostic workflow: mask
// prompt synthesis, mask generation, and report synthesis, with per-plant
// cooldowns and a bounded report history.
package diagnosis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oriys/strix/internal/fault"
	"github.com/oriys/strix/internal/frame"
	"github.com/oriys/strix/internal/logging"
	"github.com/oriys/strix/internal/observability"
	"github.com/oriys/strix/internal/segment"
	"github.com/oriys/strix/internal/vlm"
)

const defaultMaskPrompt = "diseased region"

// Provider is the slice of the VLM adapter the workflow consumes.
type Provider interface {
	GenerateMaskPrompt(ctx context.Context, imageJPEG []byte) (string, error)
	Diagnose(ctx context.Context, plantID int, imageJPEG []byte, maskPNGBase64, maskDescription, maskPrompt string) (string, error)
	Config() vlm.Config
}

// Masker is the slice of the segmentation client the workflow consumes.
type Masker interface {
	IsAvailable(ctx context.Context) bool
	Segment(ctx context.Context, f *frame.BGR, query string, sampleFrames int, progress segment.ProgressFunc) segment.Result
}

// ProgressFunc receives stage transitions during one execution.
type ProgressFunc func(plantID, stage int, message string, percent int)

// Report is one completed diagnosis.
type Report struct {
	DiagnosisID     string    `json:"diagnosis_id"`
	PlantID         int       `json:"plant_id"`
	Markdown        string    `json:"report"`
	Summary         string    `json:"summary"`
	Severity        string    `json:"severity"`
	Confidence      float64   `json:"confidence"`
	Diseases        []string  `json:"diseases,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	MaskPrompt      string    `json:"mask_prompt,omitempty"`
	MaskImageBase64 string    `json:"mask_image,omitempty"`
	MaskDescription string    `json:"mask_description,omitempty"`
	MaskMethod      string    `json:"mask_method,omitempty"`
	ElapsedSeconds  float64   `json:"elapsed_seconds"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// Workflow holds the single AI configuration slot and the cooldown state.
type Workflow struct {
	mu          sync.Mutex
	enabled     bool
	cooldown    time.Duration
	cooldowns   map[int]time.Time
	history     []Report
	historyMax  int
	provider    Provider
	providerCfg *vlm.Config
	masker      Masker
	progress    ProgressFunc
	jpegQuality int

	newProvider func(vlm.Config) (Provider, error)
	now         func() time.Time
}

// New creates a workflow. masker may be nil (stage 2 is then skipped).
func New(masker Masker, cooldown time.Duration, historyMax int) *Workflow {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if historyMax <= 0 {
		historyMax = 100
	}
	return &Workflow{
		cooldown:    cooldown,
		cooldowns:   make(map[int]time.Time),
		historyMax:  historyMax,
		masker:      masker,
		jpegQuality: 80,
		newProvider: func(cfg vlm.Config) (Provider, error) { return vlm.New(cfg) },
		now:         time.Now,
	}
}

// SetProgressFunc installs the progress sink. Pass nil to silence events.
func (w *Workflow) SetProgressFunc(fn ProgressFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.progress = fn
}

// Enable switches triggering on.
func (w *Workflow) Enable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = true
}

// Disable refuses subsequent triggers. An in-flight execution completes.
func (w *Workflow) Disable() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = false
}

// Enabled reports whether triggering is on.
func (w *Workflow) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// SetAIConfig validates and installs the provider configuration.
func (w *Workflow) SetAIConfig(cfg vlm.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	provider, err := w.newProvider(cfg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.provider = provider
	w.providerCfg = &cfg
	return nil
}

// ConfigStatus classifies the configuration slot for the control plane.
func (w *Workflow) ConfigStatus() (vlm.ConfigState, *vlm.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	state := vlm.CheckConfig(w.providerCfg)
	if w.providerCfg == nil {
		return state, nil
	}
	masked := w.providerCfg.Masked()
	return state, &masked
}

// ShouldTrigger reports whether a sighting of plantID starts a diagnosis:
// workflow enabled and no active cooldown. Configuration readiness is a
// separate check so a broken config surfaces as an error, not silence.
func (w *Workflow) ShouldTrigger(plantID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.enabled {
		return false
	}
	expires, ok := w.cooldowns[plantID]
	return !ok || !w.now().Before(expires)
}

// CheckReady is the trigger-time pre-flight: it reports why a diagnosis
// cannot run against the installed configuration, nil when it can.
func (w *Workflow) CheckReady() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.provider == nil || w.providerCfg == nil {
		return fault.New(fault.CodeAIMissingField, "no AI configuration installed")
	}
	if !w.providerCfg.SupportsVision {
		return fault.New(fault.CodeAINoVision,
			fmt.Sprintf("model %q does not support vision input", w.providerCfg.Model))
	}
	return nil
}

// CooldownRemaining returns the remaining cooldown for a plant, zero when
// it may trigger again.
func (w *Workflow) CooldownRemaining(plantID int) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	expires, ok := w.cooldowns[plantID]
	if !ok {
		return 0
	}
	if remaining := expires.Sub(w.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// SetCooldown changes the per-plant cooldown window.
func (w *Workflow) SetCooldown(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cooldown = d
}

// History returns the most recent reports, newest last. limit <= 0 means
// all retained entries.
func (w *Workflow) History(limit int) []Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.history
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	cp := make([]Report, len(out))
	copy(cp, out)
	return cp
}

// Execute runs the three-stage pipeline for one plant sighting. The frame
// must be a private copy; the workflow encodes and annotates it freely.
// The cooldown starts only after a successful stage 3, so a failed report
// attempt can be retried on the next sighting.
func (w *Workflow) Execute(ctx context.Context, plantID int, f *frame.BGR) (*Report, error) {
	w.mu.Lock()
	provider := w.provider
	masker := w.masker
	quality := w.jpegQuality
	w.mu.Unlock()

	if provider == nil {
		return nil, fault.New(fault.CodeAIMissingField, "no AI configuration installed")
	}
	if err := w.CheckReady(); err != nil {
		return nil, err
	}

	ctx, span := observability.StartSpan(ctx, "diagnosis.execute",
		observability.AttrPlantID.Int(plantID))
	defer span.End()

	start := w.now()
	imageJPEG, err := f.ToRGB().EncodeJPEG(quality)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	// Stage 1: mask prompt synthesis, best-effort.
	w.emit(plantID, 1, "generating mask prompt", 0)
	maskPrompt, err := provider.GenerateMaskPrompt(ctx, imageJPEG)
	if err != nil {
		logging.Op("diagnosis.stage1").Warn("mask prompt failed, using default",
			"plant_id", plantID, "error", err)
		maskPrompt = defaultMaskPrompt
	}
	w.emit(plantID, 1, "mask prompt ready: "+maskPrompt, 33)

	// Stage 2: mask generation, optional.
	var maskB64, maskDesc, maskMethod string
	if masker != nil {
		w.emit(plantID, 2, "generating segmentation mask", 33)
		res := masker.Segment(ctx, f, maskPrompt, 16, nil)
		if res.Success {
			maskB64 = res.MaskBase64
			maskDesc = res.Description
			if m, ok := res.Metadata["method"].(string); ok {
				maskMethod = m
			}
		} else {
			logging.Op("diagnosis.stage2").Warn("mask generation failed, continuing without mask",
				"plant_id", plantID, "error", res.Error)
		}
	}
	w.emit(plantID, 2, "mask stage complete", 66)

	// Stage 3: report synthesis, terminal on failure and no cooldown.
	w.emit(plantID, 3, "generating diagnosis report", 66)
	markdown, err := provider.Diagnose(ctx, plantID, imageJPEG, maskB64, maskDesc, maskPrompt)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}

	markdown = vlm.StripImages(markdown)
	parsed := vlm.ParseReport(markdown)
	now := w.now()
	report := Report{
		DiagnosisID:     fmt.Sprintf("diag_%d_%d", plantID, now.Unix()),
		PlantID:         plantID,
		Markdown:        markdown,
		Summary:         parsed.Summary,
		Severity:        parsed.Severity,
		Confidence:      parsed.Confidence,
		Diseases:        parsed.Diseases,
		Recommendations: parsed.Recommendations,
		MaskPrompt:      maskPrompt,
		MaskImageBase64: maskB64,
		MaskDescription: maskDesc,
		MaskMethod:      maskMethod,
		ElapsedSeconds:  now.Sub(start).Seconds(),
		GeneratedAt:     now,
	}

	w.mu.Lock()
	w.cooldowns[plantID] = now.Add(w.cooldown)
	w.history = append(w.history, report)
	if len(w.history) > w.historyMax {
		w.history = w.history[len(w.history)-w.historyMax:]
	}
	w.mu.Unlock()

	w.emit(plantID, 3, "diagnosis complete", 100)
	return &report, nil
}

func (w *Workflow) emit(plantID, stage int, message string, percent int) {
	w.mu.Lock()
	fn := w.progress
	w.mu.Unlock()
	if fn != nil {
		fn(plantID, stage, message, percent)
	}
}
