package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ControlConfig holds control-plane channel settings
type ControlConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	MaxFrameSize int64         `json:"max_frame_size" yaml:"max_frame_size"`
}

// PipelineConfig holds frame pipeline settings
type PipelineConfig struct {
	TargetFPS       int           `json:"target_fps" yaml:"target_fps"`
	SummaryInterval time.Duration `json:"summary_interval" yaml:"summary_interval"`
	JPEGQuality     int           `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// MarkerConfig holds marker detector settings
type MarkerConfig struct {
	CooldownSeconds int `json:"cooldown_seconds" yaml:"cooldown_seconds"`
}

// DiagnosisConfig holds diagnosis workflow settings
type DiagnosisConfig struct {
	CooldownSeconds int `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	HistorySize     int `json:"history_size" yaml:"history_size"`
}

// SegmentationConfig holds external mask service settings
type SegmentationConfig struct {
	Endpoint        string        `json:"endpoint" yaml:"endpoint"`
	Timeout         time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries      int           `json:"max_retries" yaml:"max_retries"`
	MaxConcurrent   int           `json:"max_concurrent" yaml:"max_concurrent"`
	AvailabilityTTL time.Duration `json:"availability_ttl" yaml:"availability_ttl"`
	EnableFallback  bool          `json:"enable_fallback" yaml:"enable_fallback"`
}

// VLMConfig holds bootstrap defaults for the vision-language provider.
// A runtime set_ai_config command overrides all of these.
type VLMConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	APIBase  string `json:"api_base" yaml:"api_base"`
}

// MissionConfig holds mission controller defaults
type MissionConfig struct {
	Rounds       int   `json:"rounds" yaml:"rounds"`
	HeightCm     int   `json:"height_cm" yaml:"height_cm"`
	DwellSeconds int   `json:"dwell_seconds" yaml:"dwell_seconds"`
	TargetPads   []int `json:"target_pads" yaml:"target_pads"`
}

// StatusCacheConfig holds telemetry broadcast gating settings
type StatusCacheConfig struct {
	MinBroadcastInterval time.Duration `json:"min_broadcast_interval" yaml:"min_broadcast_interval"`
	TTL                  time.Duration `json:"ttl" yaml:"ttl"`
	HistorySize          int           `json:"history_size" yaml:"history_size"`
}

// RedisConfig holds the optional event journal settings
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Channel  string `json:"channel" yaml:"channel"`
}

// TelemetryConfig holds tracing settings
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds the Prometheus listener settings
type MetricsConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// ModelsConfig holds the on-disk model registry settings
type ModelsConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// DaemonConfig holds daemon-wide settings
type DaemonConfig struct {
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Control      ControlConfig      `json:"control" yaml:"control"`
	Pipeline     PipelineConfig     `json:"pipeline" yaml:"pipeline"`
	Marker       MarkerConfig       `json:"marker" yaml:"marker"`
	Diagnosis    DiagnosisConfig    `json:"diagnosis" yaml:"diagnosis"`
	Segmentation SegmentationConfig `json:"segmentation" yaml:"segmentation"`
	VLM          VLMConfig          `json:"vlm" yaml:"vlm"`
	Mission      MissionConfig      `json:"mission" yaml:"mission"`
	StatusCache  StatusCacheConfig  `json:"status_cache" yaml:"status_cache"`
	Redis        RedisConfig        `json:"redis" yaml:"redis"`
	Telemetry    TelemetryConfig    `json:"telemetry" yaml:"telemetry"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	Models       ModelsConfig       `json:"models" yaml:"models"`
	Daemon       DaemonConfig       `json:"daemon" yaml:"daemon"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{
			Addr:         "localhost:3002",
			PingInterval: 20 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxFrameSize: 10 << 20,
		},
		Pipeline: PipelineConfig{
			TargetFPS:       30,
			SummaryInterval: 2 * time.Second,
			JPEGQuality:     80,
		},
		Marker: MarkerConfig{
			CooldownSeconds: 60,
		},
		Diagnosis: DiagnosisConfig{
			CooldownSeconds: 30,
			HistorySize:     100,
		},
		Segmentation: SegmentationConfig{
			Endpoint:        "http://localhost:8000/infer_unipixel_base64",
			Timeout:         30 * time.Second,
			MaxRetries:      3,
			MaxConcurrent:   3,
			AvailabilityTTL: 300 * time.Second,
			EnableFallback:  true,
		},
		Mission: MissionConfig{
			Rounds:       3,
			HeightCm:     100,
			DwellSeconds: 5,
			TargetPads:   []int{1, 6},
		},
		StatusCache: StatusCacheConfig{
			MinBroadcastInterval: 100 * time.Millisecond,
			TTL:                  60 * time.Second,
			HistorySize:          100,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Channel: "strix:events",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "strix",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Addr:      "",
			Namespace: "strix",
		},
		Models: ModelsConfig{
			Dir: "models",
		},
		Daemon: DaemonConfig{
			LogLevel: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, selected by
// extension. Values not present in the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("AGENT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			host, _, splitErr := splitHostPort(cfg.Control.Addr)
			if splitErr != nil || host == "" {
				host = "localhost"
			}
			cfg.Control.Addr = fmt.Sprintf("%s:%d", host, port)
		}
	}
	if v := os.Getenv("STRIX_CONTROL_ADDR"); v != "" {
		cfg.Control.Addr = v
	}
	if v := os.Getenv("STRIX_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("STRIX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("STRIX_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("STRIX_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("STRIX_MODELS_DIR"); v != "" {
		cfg.Models.Dir = v
	}
	if v := os.Getenv("STRIX_SEGMENT_ENDPOINT"); v != "" {
		cfg.Segmentation.Endpoint = v
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		cfg.VLM.Provider = strings.ToLower(v)
	}
	if cfg.VLM.Provider != "" {
		prefix := strings.ToUpper(cfg.VLM.Provider)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" && cfg.VLM.APIKey == "" {
			cfg.VLM.APIKey = v
		}
		if v := os.Getenv(prefix + "_API_BASE"); v != "" && cfg.VLM.APIBase == "" {
			cfg.VLM.APIBase = v
		}
	}
}

func splitHostPort(addr string) (string, string, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", "", fmt.Errorf("no port in address %q", addr)
	}
	return addr[:i], addr[i+1:], nil
}
