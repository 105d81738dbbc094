package vlm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oriys/strix/internal/fault"
)

func openaiTestAdapter(t *testing.T, base string) *Adapter {
	t.Helper()
	a, err := New(Config{
		Provider: "openai",
		Model:    "gpt-4o",
		APIKey:   "sk-0123456789abcdef0123456789",
		APIBase:  base,
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func chatResponse(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return b
}

func TestGenerateMaskPromptRequestShape(t *testing.T) {
	var got oaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Bearer sk-") {
			t.Errorf("authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write(chatResponse(`"red spots on leaf"`))
	}))
	defer srv.Close()

	a := openaiTestAdapter(t, srv.URL)
	phrase, err := a.GenerateMaskPrompt(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatal(err)
	}
	if phrase != "red spots on leaf" {
		t.Fatalf("phrase = %q", phrase)
	}

	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("messages: %+v", got.Messages)
	}
	// User content is a parts array carrying one image_url entry.
	parts, ok := got.Messages[1].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("user content: %#v", got.Messages[1].Content)
	}
}

func TestDiagnoseAttachesMask(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write(chatResponse("## Summary\nok\n"))
	}))
	defer srv.Close()

	a := openaiTestAdapter(t, srv.URL)
	report, err := a.Diagnose(context.Background(), 42, []byte{1}, "bWFzaw==", "red region", "red spots")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(report, "## Summary") {
		t.Fatalf("report = %q", report)
	}

	body, _ := json.Marshal(raw)
	if !strings.Contains(string(body), "data:image/png;base64,bWFzaw==") {
		t.Fatal("mask image not attached")
	}
	if !strings.Contains(string(body), "red spots") {
		t.Fatal("mask prompt not forwarded")
	}
}

func TestProviderErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		code   int
	}{
		{401, fault.CodeAIUnauthorized},
		{429, fault.CodeAIQuotaExceeded},
		{404, fault.CodeAIModelNotFound},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		a := openaiTestAdapter(t, srv.URL)
		_, err := a.Diagnose(context.Background(), 1, []byte{1}, "", "", "")
		fe := fault.As(err)
		if fe == nil || fe.Code != tc.code {
			t.Fatalf("status %d: err = %v, want code %d", tc.status, err, tc.code)
		}
		srv.Close()
	}
}

func TestNetworkErrorClassification(t *testing.T) {
	a := openaiTestAdapter(t, "http://127.0.0.1:1")
	_, err := a.GenerateMaskPrompt(context.Background(), []byte{1})
	fe := fault.As(err)
	if fe == nil || fe.Code != fault.CodeNetworkError {
		t.Fatalf("err = %v, want network error", err)
	}
}

func TestAnthropicDialectRequestShape(t *testing.T) {
	var got antRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") == "" || r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic headers missing")
		}
		json.NewDecoder(r.Body).Decode(&got)
		b, _ := json.Marshal(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "叶片黄斑"}},
		})
		w.Write(b)
	}))
	defer srv.Close()

	a, err := New(Config{
		Provider: "anthropic",
		Model:    "claude-3-5-sonnet-20241022",
		APIKey:   "sk-ant-REDACTED",
		APIBase:  srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	phrase, err := a.GenerateMaskPrompt(context.Background(), []byte{1})
	if err != nil {
		t.Fatal(err)
	}
	if phrase != "叶片黄斑" {
		t.Fatalf("phrase = %q", phrase)
	}
	if got.System == "" || got.MaxTokens == 0 {
		t.Fatalf("request: %+v", got)
	}
	foundImage := false
	for _, block := range got.Messages[0].Content {
		if block.Type == "image" && block.Source != nil && block.Source.MediaType == "image/jpeg" {
			foundImage = true
		}
	}
	if !foundImage {
		t.Fatal("image block missing")
	}
}

func TestGoogleDialectRequestShape(t *testing.T) {
	var got gglRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("key") == "" {
			t.Error("api key missing from query")
		}
		json.NewDecoder(r.Body).Decode(&got)
		b, _ := json.Marshal(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "brown lesion"}}}},
			},
		})
		w.Write(b)
	}))
	defer srv.Close()

	a, err := New(Config{
		Provider: "google",
		Model:    "gemini-1.5-pro",
		APIKey:   "AIza0123456789abcdef0123",
		APIBase:  srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}
	phrase, err := a.GenerateMaskPrompt(context.Background(), []byte{1})
	if err != nil {
		t.Fatal(err)
	}
	if phrase != "brown lesion" {
		t.Fatalf("phrase = %q", phrase)
	}
	if got.SystemInstruction == nil || len(got.Contents) != 1 {
		t.Fatalf("request: %+v", got)
	}
}
