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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// AudioConfig fixes the PCM format shared by every clip in the word bank.
// Mixed-format concatenation is never permitted, so these values apply
// system-wide.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

type WordBankConfig struct {
	Path          string `yaml:"path"`
	IndexPath     string `yaml:"index_path"`
	MaxClipBytes  int64  `yaml:"max_clip_bytes"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SynthConfig struct {
	Mode        string `yaml:"mode"` // mock, exec, http
	Command     string `yaml:"command"`
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
	Concurrency int    `yaml:"concurrency"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	Retries     int    `yaml:"retries"`
}

type FilterConfig struct {
	Mode          string `yaml:"mode"` // chain, exec
	Command       string `yaml:"command"`
	DefaultPreset string `yaml:"default_preset"`
}

type PipelineConfig struct {
	WordGapMS      int    `yaml:"word_gap_ms"`
	AdditivePauses bool   `yaml:"additive_pauses"`
	MaxWords       int    `yaml:"max_words"`
	MaxWordLength  int    `yaml:"max_word_length"`
	MaxTextLength  int    `yaml:"max_text_length"`
	OutputDir      string `yaml:"output_dir"`
}

type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
	MaxEntries    int  `yaml:"max_entries"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Audio       AudioConfig     `yaml:"audio"`
	WordBank    WordBankConfig  `yaml:"word_bank"`
	Synth       SynthConfig     `yaml:"synth"`
	Filter      FilterConfig    `yaml:"filter"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	History     HistoryConfig   `yaml:"history"`
}

func Default() Config {
	return Config{
		RuntimeName: "vox-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			Channels:   2,
			BitDepth:   16,
		},
		WordBank: WordBankConfig{
			Path:         "./data/wordbank",
			IndexPath:    "./data/wordbank/index.db",
			MaxClipBytes: 4 << 20,
		},
		Synth: SynthConfig{
			Mode:        "mock",
			Concurrency: 3,
			TimeoutMS:   10000,
			Retries:     0,
		},
		Filter: FilterConfig{
			Mode:          "chain",
			DefaultPreset: "off",
		},
		Pipeline: PipelineConfig{
			WordGapMS:      50,
			AdditivePauses: false,
			MaxWords:       64,
			MaxWordLength:  30,
			MaxTextLength:  1000,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
			MaxEntries:    10000,
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
	overrideString(&cfg.RuntimeName, "VOX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOX_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOX_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOX_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOX_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOX_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOX_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Audio.SampleRate, "VOX_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VOX_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BitDepth, "VOX_AUDIO_BIT_DEPTH")
	overrideString(&cfg.WordBank.Path, "VOX_WORD_BANK_PATH")
	overrideString(&cfg.WordBank.IndexPath, "VOX_WORD_BANK_INDEX_PATH")
	overrideInt64(&cfg.WordBank.MaxClipBytes, "VOX_WORD_BANK_MAX_CLIP_BYTES")
	overrideBool(&cfg.WordBank.VacuumOnStart, "VOX_WORD_BANK_VACUUM_ON_START")
	overrideString(&cfg.Synth.Mode, "VOX_SYNTH_MODE")
	overrideString(&cfg.Synth.Command, "VOX_SYNTH_COMMAND")
	overrideString(&cfg.Synth.Endpoint, "VOX_SYNTH_ENDPOINT")
	overrideString(&cfg.Synth.APIKey, "VOX_SYNTH_API_KEY")
	overrideInt(&cfg.Synth.Concurrency, "VOX_SYNTH_CONCURRENCY")
	overrideInt(&cfg.Synth.TimeoutMS, "VOX_SYNTH_TIMEOUT_MS")
	overrideInt(&cfg.Synth.Retries, "VOX_SYNTH_RETRIES")
	overrideString(&cfg.Filter.Mode, "VOX_FILTER_MODE")
	overrideString(&cfg.Filter.Command, "VOX_FILTER_COMMAND")
	overrideString(&cfg.Filter.DefaultPreset, "VOX_FILTER_DEFAULT_PRESET")
	overrideInt(&cfg.Pipeline.WordGapMS, "VOX_PIPELINE_WORD_GAP_MS")
	overrideBool(&cfg.Pipeline.AdditivePauses, "VOX_PIPELINE_ADDITIVE_PAUSES")
	overrideInt(&cfg.Pipeline.MaxWords, "VOX_PIPELINE_MAX_WORDS")
	overrideInt(&cfg.Pipeline.MaxWordLength, "VOX_PIPELINE_MAX_WORD_LENGTH")
	overrideInt(&cfg.Pipeline.MaxTextLength, "VOX_PIPELINE_MAX_TEXT_LENGTH")
	overrideString(&cfg.Pipeline.OutputDir, "VOX_PIPELINE_OUTPUT_DIR")
	overrideBool(&cfg.History.Enabled, "VOX_HISTORY_ENABLED")
	overrideInt(&cfg.History.RetentionDays, "VOX_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxEntries, "VOX_HISTORY_MAX_ENTRIES")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.BitDepth != 16 {
		return errors.New("audio.bit_depth must be 16 (only 16-bit PCM is supported)")
	}
	if cfg.WordBank.Path == "" {
		return errors.New("word_bank.path must not be empty")
	}
	if cfg.WordBank.IndexPath == "" {
		return errors.New("word_bank.index_path must not be empty")
	}
	if cfg.WordBank.MaxClipBytes <= 0 {
		return errors.New("word_bank.max_clip_bytes must be positive")
	}
	switch cfg.Synth.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("synth.mode must be one of mock|exec|http")
	}
	if cfg.Synth.Mode == "exec" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when mode=exec")
	}
	if cfg.Synth.Mode == "http" && cfg.Synth.Endpoint == "" {
		return errors.New("synth.endpoint must be set when mode=http")
	}
	if cfg.Synth.Concurrency <= 0 {
		return errors.New("synth.concurrency must be >= 1")
	}
	if cfg.Synth.TimeoutMS <= 0 {
		return errors.New("synth.timeout_ms must be positive")
	}
	if cfg.Synth.Retries < 0 {
		return errors.New("synth.retries must be >= 0")
	}
	switch cfg.Filter.Mode {
	case "chain", "exec":
	default:
		return errors.New("filter.mode must be one of chain|exec")
	}
	if cfg.Filter.Mode == "exec" && cfg.Filter.Command == "" {
		return errors.New("filter.command must be set when mode=exec")
	}
	switch cfg.Filter.DefaultPreset {
	case "off", "light", "heavy":
	default:
		return errors.New("filter.default_preset must be one of off|light|heavy")
	}
	if cfg.Pipeline.WordGapMS < 0 {
		return errors.New("pipeline.word_gap_ms must be >= 0")
	}
	if cfg.Pipeline.MaxWords <= 0 {
		return errors.New("pipeline.max_words must be >= 1")
	}
	if cfg.Pipeline.MaxWordLength <= 0 {
		return errors.New("pipeline.max_word_length must be >= 1")
	}
	if cfg.Pipeline.MaxTextLength <= 0 {
		return errors.New("pipeline.max_text_length must be >= 1")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.History.MaxEntries < 0 {
		return errors.New("history.max_entries must be >= 0")
	}
	return nil
}
