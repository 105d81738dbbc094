package vlm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/oriys/strix/internal/fault"
)

// googleDialect speaks the generative-language API: inline base64 image
// data alongside text parts, model name in the URL, key as a query param.
type googleDialect struct{}

type gglRequest struct {
	SystemInstruction *gglContent      `json:"system_instruction,omitempty"`
	Contents          []gglContent     `json:"contents"`
	GenerationConfig  gglGenerationCfg `json:"generationConfig"`
}

type gglContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []gglPart `json:"parts"`
}

type gglPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *gglInlineData `json:"inline_data,omitempty"`
}

type gglInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type gglGenerationCfg struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type gglResponse struct {
	Candidates []struct {
		Content gglContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (googleDialect) complete(ctx context.Context, a *Adapter, system string, parts []part) (string, error) {
	gparts := make([]gglPart, 0, len(parts))
	for _, p := range parts {
		if p.imageB64 != "" {
			gparts = append(gparts, gglPart{
				InlineData: &gglInlineData{MimeType: p.mediaType, Data: p.imageB64},
			})
			continue
		}
		gparts = append(gparts, gglPart{Text: p.text})
	}

	body, err := json.Marshal(gglRequest{
		SystemInstruction: &gglContent{Parts: []gglPart{{Text: system}}},
		Contents:          []gglContent{{Role: "user", Parts: gparts}},
		GenerationConfig: gglGenerationCfg{
			Temperature:     a.cfg.Temperature,
			MaxOutputTokens: a.cfg.MaxTokens,
		},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.cfg.APIBase, a.cfg.Model, a.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, status, err := doProviderRequest(a.http, req)
	if err != nil {
		return "", err
	}

	var out gglResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fault.ClassifyProviderError(status, err)
	}
	if out.Error != nil {
		return "", fault.ClassifyProviderError(status, errors.New(out.Error.Message))
	}
	if len(out.Candidates) == 0 {
		return "", fault.New(fault.CodeMissingData, "provider response has no candidates")
	}
	for _, p := range out.Candidates[0].Content.Parts {
		if p.Text != "" {
			return p.Text, nil
		}
	}
	return "", fault.New(fault.CodeMissingData, "provider response has no text part")
}
