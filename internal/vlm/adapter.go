package vlm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/strix/internal/fault"
	"github.com/oriys/strix/internal/logging"
)

const (
	maskPromptTimeout = 60 * time.Second
	diagnoseTimeout   = 120 * time.Second
)

const maskPromptInstruction = `You are assisting a plant-disease inspection drone. ` +
	`Look at the image and output a short visual phrase (10-20 characters) describing ` +
	`the most likely diseased region, for example "red spots on leaf" or "叶片黄斑". ` +
	`Output the phrase only. Do not name a disease, do not diagnose, do not explain.`

const diagnoseTemplate = `You are a plant pathologist examining strawberry plant #%d. ` +
	`Analyze the attached photo%s and write a Markdown report with exactly these sections:

## Summary
## Disease identification
## Severity
(state the level as 低, 中 or 高, a confidence percentage, and the affected scope)
## Detailed analysis
### Features
### Causes
### Trajectory
## Recommended actions
### Immediate
(numbered list)
### Follow-up
## Preventive measures
%s`

// dialect composes and sends one provider-specific request. parts carry the
// text segments and images of the user turn, in order.
type dialect interface {
	complete(ctx context.Context, a *Adapter, system string, parts []part) (string, error)
}

type part struct {
	text      string
	imageB64  string // raw base64
	mediaType string // e.g. image/jpeg
}

// Adapter is the provider-facing client. It is created from a validated
// Config and is safe for concurrent use.
type Adapter struct {
	cfg     Config
	http    *http.Client
	dialect dialect
}

// New validates the configuration and builds the adapter for its dialect.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, http: &http.Client{}}
	switch providerProfiles[cfg.Provider].dialect {
	case "anthropic":
		a.dialect = anthropicDialect{}
	case "google":
		a.dialect = googleDialect{}
	default:
		a.dialect = openaiDialect{}
	}
	return a, nil
}

// Config returns the adapter's configuration with the key masked.
func (a *Adapter) Config() Config {
	return a.cfg.Masked()
}

// GenerateMaskPrompt asks the provider for a short visual phrase locating
// the most likely diseased region. imageJPEG is the raw encoded frame.
func (a *Adapter) GenerateMaskPrompt(ctx context.Context, imageJPEG []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, maskPromptTimeout)
	defer cancel()

	out, err := a.dialect.complete(ctx, a, maskPromptInstruction, []part{
		{text: "Locate the most likely diseased region."},
		{imageB64: base64.StdEncoding.EncodeToString(imageJPEG), mediaType: "image/jpeg"},
	})
	if err != nil {
		return "", err
	}
	phrase := strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"'`))
	if phrase == "" {
		return "", fault.New(fault.CodeMissingData, "provider returned an empty mask prompt")
	}
	// Single line only; providers occasionally add commentary.
	if i := strings.IndexByte(phrase, '\n'); i > 0 {
		phrase = strings.TrimSpace(phrase[:i])
	}
	return phrase, nil
}

// Diagnose produces the long-form Markdown report. The mask image and its
// description are optional; when present they are attached as extra
// evidence for the model.
func (a *Adapter) Diagnose(ctx context.Context, plantID int, imageJPEG []byte, maskPNGBase64, maskDescription, maskPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, diagnoseTimeout)
	defer cancel()

	maskNote := ""
	if maskPNGBase64 != "" {
		maskNote = " and the attached segmentation mask"
	}
	extra := ""
	if maskPrompt != "" {
		extra += fmt.Sprintf("\nThe suspected region was described as: %q.", maskPrompt)
	}
	if maskDescription != "" {
		extra += fmt.Sprintf("\nThe segmentation service described the mask as: %q.", maskDescription)
	}

	parts := []part{
		{text: "Photo of the plant:"},
		{imageB64: base64.StdEncoding.EncodeToString(imageJPEG), mediaType: "image/jpeg"},
	}
	if maskPNGBase64 != "" {
		parts = append(parts,
			part{text: "Binary mask of the suspected region:"},
			part{imageB64: maskPNGBase64, mediaType: "image/png"},
		)
	}

	system := fmt.Sprintf(diagnoseTemplate, plantID, maskNote, extra)
	report, err := a.dialect.complete(ctx, a, system, parts)
	if err != nil {
		logging.Op("vlm.diagnose").Error("provider call failed",
			"provider", a.cfg.Provider, "plant_id", plantID, "error", err)
		return "", err
	}
	if strings.TrimSpace(report) == "" {
		return "", fault.New(fault.CodeMissingData, "provider returned an empty report")
	}
	return report, nil
}
