// Package vlm adapts the vision-language providers behind one interface:
// short mask-prompt synthesis and long-form diagnosis reports, with the
// provider dialects hidden from the rest of the system.
package vlm

import (
	"fmt"
	"strings"

	"github.com/oriys/strix/internal/fault"
	"github.com/oriys/strix/internal/logging"
)

// Provider tags the supported backends.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
	ProviderQwen      = "qwen"
	ProviderDashscope = "dashscope"
)

// Config is the single AI configuration slot, validated before first use.
type Config struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key,omitempty"`
	APIBase     string  `json:"api_base,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`

	// SupportsVision is computed during validation, not user-supplied.
	SupportsVision bool `json:"supports_vision"`
}

type providerProfile struct {
	defaultBase string
	keyPrefix   string
	keyMinLen   int
	keyOptional bool
	dialect     string // openai | anthropic | google
	visionList  []string
}

var providerProfiles = map[string]providerProfile{
	ProviderOpenAI: {
		defaultBase: "https://api.openai.com/v1",
		keyPrefix:   "sk-",
		keyMinLen:   20,
		dialect:     "openai",
		visionList:  []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-4.1", "chatgpt-4o-latest", "o1"},
	},
	ProviderAnthropic: {
		defaultBase: "https://api.anthropic.com/v1",
		keyPrefix:   "sk-ant-",
		keyMinLen:   20,
		dialect:     "anthropic",
		visionList:  []string{"claude-3-opus", "claude-3-sonnet", "claude-3-haiku", "claude-3-5-sonnet", "claude-3-7-sonnet"},
	},
	ProviderGoogle: {
		defaultBase: "https://generativelanguage.googleapis.com/v1beta",
		keyMinLen:   20,
		dialect:     "google",
		visionList:  []string{"gemini-1.5-pro", "gemini-1.5-flash", "gemini-2.0-flash", "gemini-pro-vision"},
	},
	ProviderOllama: {
		defaultBase: "http://localhost:11434/v1",
		keyOptional: true,
		dialect:     "openai",
		visionList:  []string{"llava", "bakllava", "moondream", "minicpm-v"},
	},
	ProviderQwen: {
		defaultBase: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		keyPrefix:   "sk-",
		keyMinLen:   20,
		dialect:     "openai",
		visionList:  []string{"qwen-vl-plus", "qwen-vl-max", "qwen2-vl"},
	},
	ProviderDashscope: {
		defaultBase: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		keyPrefix:   "sk-",
		keyMinLen:   20,
		dialect:     "openai",
		visionList:  []string{"qwen-vl-plus", "qwen-vl-max", "qwen2-vl"},
	},
}

// visionKeywords is the acceptance heuristic for models outside the
// whitelist. A keyword hit accepts the config with a warning.
var visionKeywords = []string{"vl", "vision", "visual", "multimodal", "image", "4o", "gemini", "llava"}

// Validate checks the configuration in place: provider tag, API key shape,
// numeric ranges, and vision capability. Defaults are filled for empty
// temperature, max_tokens and api_base.
func (c *Config) Validate() error {
	profile, ok := providerProfiles[strings.ToLower(c.Provider)]
	if !ok {
		return fault.New(fault.CodeAIInvalidProvider,
			fmt.Sprintf("unsupported provider %q", c.Provider))
	}
	c.Provider = strings.ToLower(c.Provider)

	if c.Model == "" {
		return fault.New(fault.CodeAIMissingField, "model is required")
	}

	if !profile.keyOptional {
		if c.APIKey == "" {
			return fault.New(fault.CodeAIMissingField, "api_key is required for "+c.Provider)
		}
		if profile.keyPrefix != "" && !strings.HasPrefix(c.APIKey, profile.keyPrefix) {
			return fault.New(fault.CodeAIInvalidKey,
				fmt.Sprintf("%s API keys start with %q", c.Provider, profile.keyPrefix))
		}
		if len(c.APIKey) < profile.keyMinLen {
			return fault.New(fault.CodeAIInvalidKey,
				fmt.Sprintf("%s API key is too short", c.Provider))
		}
	}

	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fault.New(fault.CodeInvalidParam, "temperature must be in [0, 2]")
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2000
	}
	if c.MaxTokens < 1 || c.MaxTokens > 100000 {
		return fault.New(fault.CodeInvalidParam, "max_tokens must be in [1, 100000]")
	}
	if c.APIBase == "" {
		c.APIBase = profile.defaultBase
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")

	// A non-vision model is a legal configuration; diagnoses against it are
	// refused at trigger time, not here.
	c.SupportsVision = modelSupportsVision(profile, c.Model)
	return nil
}

func modelSupportsVision(profile providerProfile, model string) bool {
	m := strings.ToLower(model)
	for _, known := range profile.visionList {
		if strings.HasPrefix(m, known) {
			return true
		}
	}
	for _, kw := range visionKeywords {
		if strings.Contains(m, kw) {
			logging.Op("vlm.config").Warn("model accepted by vision keyword heuristic",
				"model", model, "keyword", kw)
			return true
		}
	}
	return false
}

// Masked returns a copy safe for status responses: the key keeps only its
// first four and last four characters.
func (c Config) Masked() Config {
	out := c
	switch {
	case len(out.APIKey) > 8:
		out.APIKey = out.APIKey[:4] + "****" + out.APIKey[len(out.APIKey)-4:]
	case out.APIKey != "":
		out.APIKey = "****"
	}
	return out
}

// ConfigState classifies the configuration slot for get_ai_config_status.
type ConfigState string

const (
	ConfigOK           ConfigState = "ok"
	ConfigNoModel      ConfigState = "no_model"
	ConfigNoVision     ConfigState = "no_vision"
	ConfigError        ConfigState = "config_error"
	ConfigUnconfigured ConfigState = "unconfigured"
)

// CheckConfig reports the state of an optional configuration slot.
func CheckConfig(c *Config) ConfigState {
	if c == nil {
		return ConfigUnconfigured
	}
	cp := *c
	if err := cp.Validate(); err != nil {
		fe := fault.As(err)
		if fe != nil && fe.Code == fault.CodeAIMissingField && strings.Contains(fe.Message, "model") {
			return ConfigNoModel
		}
		return ConfigError
	}
	if !cp.SupportsVision {
		return ConfigNoVision
	}
	return ConfigOK
}
