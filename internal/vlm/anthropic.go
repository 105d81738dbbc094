package vlm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oriys/strix/internal/fault"
)

// anthropicDialect speaks the messages API: images as explicit base64
// blocks with a media type, system prompt as a top-level field.
type anthropicDialect struct{}

type antRequest struct {
	Model       string       `json:"model"`
	System      string       `json:"system,omitempty"`
	Messages    []antMessage `json:"messages"`
	Temperature float64      `json:"temperature"`
	MaxTokens   int          `json:"max_tokens"`
}

type antMessage struct {
	Role    string     `json:"role"`
	Content []antBlock `json:"content"`
}

type antBlock struct {
	Type   string     `json:"type"` // text | image
	Text   string     `json:"text,omitempty"`
	Source *antSource `json:"source,omitempty"`
}

type antSource struct {
	Type      string `json:"type"` // base64
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type antResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (anthropicDialect) complete(ctx context.Context, a *Adapter, system string, parts []part) (string, error) {
	blocks := make([]antBlock, 0, len(parts))
	for _, p := range parts {
		if p.imageB64 != "" {
			blocks = append(blocks, antBlock{
				Type: "image",
				Source: &antSource{
					Type:      "base64",
					MediaType: p.mediaType,
					Data:      p.imageB64,
				},
			})
			continue
		}
		blocks = append(blocks, antBlock{Type: "text", Text: p.text})
	}

	body, err := json.Marshal(antRequest{
		Model:       a.cfg.Model,
		System:      system,
		Messages:    []antMessage{{Role: "user", Content: blocks}},
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBase+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	respBody, status, err := doProviderRequest(a.http, req)
	if err != nil {
		return "", err
	}

	var out antResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fault.ClassifyProviderError(status, err)
	}
	if out.Error != nil {
		return "", fault.ClassifyProviderError(status, errors.New(out.Error.Message))
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fault.New(fault.CodeMissingData, "provider response has no text block")
}
