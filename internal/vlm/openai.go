package vlm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/oriys/strix/internal/fault"
)

// openaiDialect speaks the chat-completions wire format, which also covers
// the self-hosted and compatible-mode vendors (ollama, qwen, dashscope).
type openaiDialect struct{}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Temperature float64     `json:"temperature"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
}

type oaMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []oaContent
}

type oaContent struct {
	Type     string      `json:"type"` // text | image_url
	Text     string      `json:"text,omitempty"`
	ImageURL *oaImageURL `json:"image_url,omitempty"`
}

type oaImageURL struct {
	URL string `json:"url"`
}

type oaResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (openaiDialect) complete(ctx context.Context, a *Adapter, system string, parts []part) (string, error) {
	content := make([]oaContent, 0, len(parts))
	for _, p := range parts {
		if p.imageB64 != "" {
			content = append(content, oaContent{
				Type: "image_url",
				ImageURL: &oaImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", p.mediaType, p.imageB64),
				},
			})
			continue
		}
		content = append(content, oaContent{Type: "text", Text: p.text})
	}

	body, err := json.Marshal(oaRequest{
		Model: a.cfg.Model,
		Messages: []oaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: content},
		},
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	respBody, status, err := doProviderRequest(a.http, req)
	if err != nil {
		return "", err
	}

	var out oaResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fault.ClassifyProviderError(status, err)
	}
	if out.Error != nil {
		return "", fault.ClassifyProviderError(status, errors.New(out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", fault.New(fault.CodeMissingData, "provider response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// doProviderRequest runs one HTTP exchange and classifies transport and
// status failures onto the taxonomy. Callers receive the body only on 2xx.
func doProviderRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fault.ClassifyProviderError(0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, resp.StatusCode, fault.ClassifyProviderError(resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fault.ClassifyProviderError(resp.StatusCode,
			fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(string(body), 300)))
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
