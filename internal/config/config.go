package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CaptureConfig struct {
	FlushIntervalMS  int     `yaml:"flush_interval_ms"`
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	HandleTTLMS      int     `yaml:"handle_ttl_ms"`
	Source           string  `yaml:"source"` // tone, file
	SourcePath       string  `yaml:"source_path"`
	PlaythroughCmd   string  `yaml:"playthrough_command"`
	SilenceRMSFloor  float64 `yaml:"silence_rms_floor"`
	SilencePeakFloor float64 `yaml:"silence_peak_floor"`
	SampleThreshold  float64 `yaml:"sample_threshold"`
	SpeechRatioFloor float64 `yaml:"speech_ratio_floor"`
}

type CoordinatorConfig struct {
	ProbeTimeoutMS     int `yaml:"probe_timeout_ms"`
	ReleaseSettleMS    int `yaml:"release_settle_ms"`
	FallbackFlushMS    int `yaml:"fallback_flush_ms"`
	RequestTimeoutMS   int `yaml:"request_timeout_ms"`
	TranscribeTimeoutS int `yaml:"transcribe_timeout_s"`
}

type TranscriptionConfig struct {
	Mode     string `yaml:"mode"` // mock, http, exec
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	VADModel string `yaml:"vad_model"`
	Command  string `yaml:"command"`
	Language string `yaml:"language"`
}

type SummarizationConfig struct {
	Mode        string  `yaml:"mode"` // mock, http
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
	Plan string `yaml:"plan"` // free, premium
}

type ProbeTab struct {
	ID  int    `yaml:"id"`
	URL string `yaml:"url"`
}

type ProbeConfig struct {
	Enabled    bool       `yaml:"enabled"`
	IntervalMS int        `yaml:"interval_ms"`
	StaleAfter int        `yaml:"stale_after_ms"`
	Tabs       []ProbeTab `yaml:"tabs"`
}

type Config struct {
	RuntimeName   string              `yaml:"runtime_name"`
	Environment   string              `yaml:"environment"`
	HTTP          HTTPConfig          `yaml:"http"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Bus           BusConfig           `yaml:"bus"`
	Capture       CaptureConfig       `yaml:"capture"`
	Coordinator   CoordinatorConfig   `yaml:"coordinator"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Summarization SummarizationConfig `yaml:"summarization"`
	Settings      SettingsConfig      `yaml:"settings"`
	Probe         ProbeConfig         `yaml:"probe"`
}

func Default() Config {
	return Config{
		RuntimeName: "meetingmind",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			FlushIntervalMS:  2000,
			SampleRate:       16000,
			Channels:         1,
			HandleTTLMS:      30000,
			Source:           "tone",
			SilenceRMSFloor:  0.005,
			SilencePeakFloor: 0.01,
			SampleThreshold:  0.01,
			SpeechRatioFloor: 0.02,
		},
		Coordinator: CoordinatorConfig{
			ProbeTimeoutMS:     5000,
			ReleaseSettleMS:    750,
			FallbackFlushMS:    8000,
			RequestTimeoutMS:   10000,
			TranscribeTimeoutS: 60,
		},
		Transcription: TranscriptionConfig{
			Mode:     "mock",
			Endpoint: "https://audio-turbo.us-virginia-1.direct.fireworks.ai/v1/audio/transcriptions",
			Model:    "whisper-v3-turbo",
			VADModel: "silero",
		},
		Summarization: SummarizationConfig{
			Mode:        "mock",
			Endpoint:    "https://api.fireworks.ai/inference/v1/chat/completions",
			Model:       "accounts/fireworks/models/llama-v3p1-8b-instruct",
			MaxTokens:   2048,
			Temperature: 0.7,
			TopP:        0.9,
		},
		Settings: SettingsConfig{
			Path: "./data/meetingmind.db",
			Plan: "free",
		},
		Probe: ProbeConfig{
			Enabled:    true,
			IntervalMS: 2000,
			StaleAfter: 6000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "MEETINGMIND_RUNTIME_NAME")
	overrideString(&cfg.Environment, "MEETINGMIND_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MEETINGMIND_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MEETINGMIND_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MEETINGMIND_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MEETINGMIND_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MEETINGMIND_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "MEETINGMIND_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MEETINGMIND_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MEETINGMIND_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MEETINGMIND_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MEETINGMIND_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MEETINGMIND_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MEETINGMIND_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MEETINGMIND_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Capture.FlushIntervalMS, "MEETINGMIND_CAPTURE_FLUSH_INTERVAL_MS")
	overrideInt(&cfg.Capture.SampleRate, "MEETINGMIND_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "MEETINGMIND_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.HandleTTLMS, "MEETINGMIND_CAPTURE_HANDLE_TTL_MS")
	overrideString(&cfg.Capture.Source, "MEETINGMIND_CAPTURE_SOURCE")
	overrideString(&cfg.Capture.SourcePath, "MEETINGMIND_CAPTURE_SOURCE_PATH")
	overrideString(&cfg.Capture.PlaythroughCmd, "MEETINGMIND_CAPTURE_PLAYTHROUGH_COMMAND")
	overrideInt(&cfg.Coordinator.ProbeTimeoutMS, "MEETINGMIND_COORDINATOR_PROBE_TIMEOUT_MS")
	overrideInt(&cfg.Coordinator.ReleaseSettleMS, "MEETINGMIND_COORDINATOR_RELEASE_SETTLE_MS")
	overrideInt(&cfg.Coordinator.FallbackFlushMS, "MEETINGMIND_COORDINATOR_FALLBACK_FLUSH_MS")
	overrideInt(&cfg.Coordinator.RequestTimeoutMS, "MEETINGMIND_COORDINATOR_REQUEST_TIMEOUT_MS")
	overrideInt(&cfg.Coordinator.TranscribeTimeoutS, "MEETINGMIND_COORDINATOR_TRANSCRIBE_TIMEOUT_S")
	overrideString(&cfg.Transcription.Mode, "MEETINGMIND_TRANSCRIPTION_MODE")
	overrideString(&cfg.Transcription.Endpoint, "MEETINGMIND_TRANSCRIPTION_ENDPOINT")
	overrideString(&cfg.Transcription.Model, "MEETINGMIND_TRANSCRIPTION_MODEL")
	overrideString(&cfg.Transcription.VADModel, "MEETINGMIND_TRANSCRIPTION_VAD_MODEL")
	overrideString(&cfg.Transcription.Command, "MEETINGMIND_TRANSCRIPTION_COMMAND")
	overrideString(&cfg.Transcription.Language, "MEETINGMIND_TRANSCRIPTION_LANGUAGE")
	overrideString(&cfg.Summarization.Mode, "MEETINGMIND_SUMMARIZATION_MODE")
	overrideString(&cfg.Summarization.Endpoint, "MEETINGMIND_SUMMARIZATION_ENDPOINT")
	overrideString(&cfg.Summarization.Model, "MEETINGMIND_SUMMARIZATION_MODEL")
	overrideInt(&cfg.Summarization.MaxTokens, "MEETINGMIND_SUMMARIZATION_MAX_TOKENS")
	overrideFloat(&cfg.Summarization.Temperature, "MEETINGMIND_SUMMARIZATION_TEMPERATURE")
	overrideString(&cfg.Settings.Path, "MEETINGMIND_SETTINGS_PATH")
	overrideString(&cfg.Settings.Plan, "MEETINGMIND_SETTINGS_PLAN")
	overrideBool(&cfg.Probe.Enabled, "MEETINGMIND_PROBE_ENABLED")
	overrideInt(&cfg.Probe.IntervalMS, "MEETINGMIND_PROBE_INTERVAL_MS")
	overrideInt(&cfg.Probe.StaleAfter, "MEETINGMIND_PROBE_STALE_AFTER_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Capture.FlushIntervalMS <= 0 {
		return errors.New("capture.flush_interval_ms must be positive")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	switch cfg.Capture.Source {
	case "tone", "file":
	default:
		return errors.New("capture.source must be one of tone|file")
	}
	if cfg.Capture.Source == "file" && cfg.Capture.SourcePath == "" {
		return errors.New("capture.source_path must be set when source=file")
	}
	if cfg.Coordinator.ProbeTimeoutMS <= 0 {
		return errors.New("coordinator.probe_timeout_ms must be positive")
	}
	if cfg.Coordinator.FallbackFlushMS <= cfg.Capture.FlushIntervalMS {
		return errors.New("coordinator.fallback_flush_ms must be greater than capture.flush_interval_ms")
	}
	switch cfg.Transcription.Mode {
	case "mock", "http", "exec":
	default:
		return errors.New("transcription.mode must be one of mock|http|exec")
	}
	if cfg.Transcription.Mode == "http" && cfg.Transcription.Endpoint == "" {
		return errors.New("transcription.endpoint must be set when mode=http")
	}
	if cfg.Transcription.Mode == "exec" && cfg.Transcription.Command == "" {
		return errors.New("transcription.command must be set when mode=exec")
	}
	switch cfg.Summarization.Mode {
	case "mock", "http":
	default:
		return errors.New("summarization.mode must be one of mock|http")
	}
	if cfg.Summarization.Mode == "http" && cfg.Summarization.Endpoint == "" {
		return errors.New("summarization.endpoint must be set when mode=http")
	}
	if cfg.Summarization.MaxTokens < 0 {
		return errors.New("summarization.max_tokens must be >= 0")
	}
	if cfg.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}
	switch cfg.Settings.Plan {
	case "free", "premium":
	default:
		return errors.New("settings.plan must be one of free|premium")
	}
	if cfg.Probe.Enabled {
		if cfg.Probe.IntervalMS <= 0 {
			return errors.New("probe.interval_ms must be positive")
		}
		if cfg.Probe.StaleAfter <= cfg.Probe.IntervalMS {
			return errors.New("probe.stale_after_ms must be greater than probe interval")
		}
	}
	return nil
}
