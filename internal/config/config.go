package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/bedtime/pkg/llm/openai"
)

type Config struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	HTTP     struct {
		Enabled   bool   `json:"enabled"`
		Listen    string `json:"listen"`
		PublicURL string `json:"public_url"`
	} `json:"http"`
	LLM struct {
		Provider         string   `json:"provider"`
		BaseURL          string   `json:"base_url"`
		APIKey           string   `json:"api_key"`
		Models           []string `json:"models"`
		Temperature      float32  `json:"temperature"`
		MaxContextTokens int      `json:"max_context_tokens"`
		TimeoutSeconds   int      `json:"timeout_seconds"`
	} `json:"llm"`
	TTS struct {
		BaseURL        string  `json:"base_url"`
		APIKey         string  `json:"api_key"`
		LanguageCode   string  `json:"language_code"`
		Voice          string  `json:"voice"`
		Encoding       string  `json:"encoding"`
		SpeakingRate   float64 `json:"speaking_rate"`
		Pitch          float64 `json:"pitch"`
		MaxConcurrent  int     `json:"max_concurrent"`
		StagingDir     string  `json:"staging_dir"`
		TimeoutSeconds int     `json:"timeout_seconds"`
	} `json:"tts"`
	Store struct {
		Driver              string `json:"driver"`
		Path                string `json:"path"`
		FirestoreProject    string `json:"firestore_project"`
		FirestoreCollection string `json:"firestore_collection"`
	} `json:"store"`
	RateLimit struct {
		WindowSeconds int `json:"window_seconds"`
		General       int `json:"general"`
		Generation    int `json:"generation"`
	} `json:"rate_limit"`
	Telegram struct {
		Token         string `json:"token"`
		GenerateAudio bool   `json:"generate_audio"`
	} `json:"telegram"`
	Maintenance struct {
		OrphanSweepSchedule     string `json:"orphan_sweep_schedule"`
		TempAudioRetentionHours int    `json:"temp_audio_retention_hours"`
	} `json:"maintenance"`
}

// Defaults returns the configuration written on first run.
func Defaults() *Config {
	cfg := &Config{
		DataDir:  filepath.Join(os.Getenv("HOME"), ".bedtime"),
		LogLevel: "info",
	}
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8484"
	cfg.HTTP.PublicURL = "http://127.0.0.1:8484"
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = openai.DefaultBaseURL
	cfg.LLM.Models = []string{"gemini-1.5-pro", "gemini-pro", "gemini-1.0-pro"}
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 32000
	cfg.LLM.TimeoutSeconds = 60
	cfg.TTS.LanguageCode = "en-US"
	cfg.TTS.Voice = "en-US-Wavenet-D"
	cfg.TTS.Encoding = "MP3"
	cfg.TTS.SpeakingRate = 1
	cfg.TTS.MaxConcurrent = 2
	cfg.TTS.TimeoutSeconds = 60
	cfg.Store.Driver = "json"
	cfg.Store.FirestoreCollection = "stories"
	cfg.RateLimit.WindowSeconds = 60
	cfg.RateLimit.General = 30
	cfg.RateLimit.Generation = 5
	cfg.Maintenance.OrphanSweepSchedule = "@daily"
	cfg.Maintenance.TempAudioRetentionHours = 24
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := firstEnv("BEDTIME_LLM_API_KEY", "GOOGLE_AI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("BEDTIME_LLM_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if ttsKey := os.Getenv("GOOGLE_TTS_API_KEY"); ttsKey != "" {
		cfg.TTS.APIKey = ttsKey
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if project := os.Getenv("GOOGLE_CLOUD_PROJECT"); project != "" {
		cfg.Store.FirestoreProject = project
	}

	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var problems []string
	if len(c.LLM.Models) == 0 {
		problems = append(problems, "llm.models must list at least one model")
	}
	switch c.LLM.Provider {
	case "openai", "responses":
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not one of openai, responses", c.LLM.Provider))
	}
	switch c.Store.Driver {
	case "json", "sqlite":
	case "firestore":
		if c.Store.FirestoreProject == "" {
			problems = append(problems, "store.firestore_project is required for the firestore driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not one of json, sqlite, firestore", c.Store.Driver))
	}
	if c.RateLimit.WindowSeconds <= 0 || c.RateLimit.General <= 0 || c.RateLimit.Generation <= 0 {
		problems = append(problems, "rate_limit values must be positive")
	}
	if c.TTS.MaxConcurrent <= 0 {
		problems = append(problems, "tts.max_concurrent must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// StorePath is where the json or sqlite driver keeps stories.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Driver == "sqlite" {
		return filepath.Join(c.DataDir, "stories.db")
	}
	return c.DataDir
}

// MediaDir is the root of the local object store.
func (c *Config) MediaDir() string {
	return filepath.Join(c.DataDir, "media")
}

// RateWindow is the rate limiting window.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// TempAudioRetention is how long unattached audio is kept.
func (c *Config) TempAudioRetention() time.Duration {
	return time.Duration(c.Maintenance.TempAudioRetentionHours) * time.Hour
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its nested JSON map form. Numbers are float64.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every setting as a flat dotted map, optionally with
// secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw returns the file's settings as a flat map, keeping keys that the
// Config struct does not know.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return Flatten(m), nil
}

// GetValue reads one dotted key from the config file, creating the file with
// defaults if it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dotted key into an existing config file. The value is
// stored as JSON when it parses as JSON and as a string otherwise.
func SetValue(path, key, value string) error {
	flat, err := readRaw(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	flat[key] = v
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}
