package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LLMConfig holds the generation-collaborator settings. Two models are
// configured: one produces artifacts, a second reviews them.
type LLMConfig struct {
	// Provider names the active provider: "google", "anthropic", "openai",
	// "openai_compatible".
	Provider string `yaml:"provider"`

	// GenerateModel produces check artifacts; ReviewModel critiques them.
	GenerateModel string `yaml:"generate_model"`
	ReviewModel   string `yaml:"review_model"`

	// BaseURL is used by the openai_compatible provider.
	BaseURL string `yaml:"base_url"`

	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	// MaxTokens of 0 leaves generation length unbounded.
	MaxTokens int `yaml:"max_tokens"`
}

type NucleiConfig struct {
	// Path to the nuclei binary; default resolves via PATH.
	Path           string `yaml:"path"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ScriptConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// MemoryLimitPages caps guest memory (1 page = 64KB).
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
}

type SweepConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron expression; default "@hourly".
	Schedule string `yaml:"schedule"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	// LibraryDir holds the catalog database and content-store subdirectories.
	// Default: <home>/library.
	LibraryDir string `yaml:"library_dir"`

	// PipelineDir holds per-run checkpoint directories.
	// Default: <home>/pipeline.
	PipelineDir string `yaml:"pipeline_dir"`

	LLM    LLMConfig    `yaml:"llm"`
	Nuclei NucleiConfig `yaml:"nuclei"`
	Script ScriptConfig `yaml:"script"`
	Sweep  SweepConfig  `yaml:"sweep"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		LLM: LLMConfig{
			Provider:    "google",
			Temperature: 0.7,
		},
		Nuclei: NucleiConfig{
			Path:           "nuclei",
			TimeoutSeconds: 30,
		},
		Script: ScriptConfig{
			TimeoutSeconds:   30,
			MemoryLimitPages: 160, // 10MB
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "@hourly",
		},
	}
}

// HomeDir resolves the data directory: $POCVAULT_HOME, else ~/.pocvault.
func HomeDir() string {
	if override := os.Getenv("POCVAULT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".pocvault")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create pocvault home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

// APIKey returns the effective key for the active provider. Env vars take
// precedence over config.yaml.
func (c Config) APIKey() string {
	envMap := map[string]string{
		"google":            "GOOGLE_API_KEY",
		"anthropic":         "ANTHROPIC_API_KEY",
		"openai":            "OPENAI_API_KEY",
		"openai_compatible": "LLM_API_KEY",
	}
	if envVar, ok := envMap[c.LLM.Provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	return c.LLM.APIKey
}

// APIKeyPreview returns the configured key with the middle elided, for
// display surfaces that must not leak the full value.
func (c Config) APIKeyPreview() string {
	key := c.APIKey()
	switch {
	case key == "":
		return "unset"
	case len(key) > 10:
		return key[:7] + "..." + key[len(key)-4:]
	default:
		return key[:3] + "***"
	}
}

// Fingerprint returns a stable hash of the active config, logged at startup
// so reloads are observable.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|lib=%s|provider=%s|gen=%s|rev=%s|nuclei=%s",
		c.LogLevel, c.LibraryDir, c.LLM.Provider, c.LLM.GenerateModel, c.LLM.ReviewModel, c.Nuclei.Path)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POCVAULT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LLM_API_BASE"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("NUCLEI_PATH"); v != "" {
		cfg.Nuclei.Path = v
	}
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LibraryDir == "" {
		cfg.LibraryDir = filepath.Join(cfg.HomeDir, "library")
	}
	if cfg.PipelineDir == "" {
		cfg.PipelineDir = filepath.Join(cfg.HomeDir, "pipeline")
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "google"
	}
	if cfg.LLM.GenerateModel == "" {
		cfg.LLM.GenerateModel = defaultGenerateModel(cfg.LLM.Provider)
	}
	if cfg.LLM.ReviewModel == "" {
		cfg.LLM.ReviewModel = cfg.LLM.GenerateModel
	}
	if cfg.LLM.Temperature <= 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.Nuclei.Path == "" {
		cfg.Nuclei.Path = "nuclei"
	}
	if cfg.Nuclei.TimeoutSeconds <= 0 {
		cfg.Nuclei.TimeoutSeconds = 30
	}
	if cfg.Script.TimeoutSeconds <= 0 {
		cfg.Script.TimeoutSeconds = 30
	}
	if cfg.Script.MemoryLimitPages == 0 {
		cfg.Script.MemoryLimitPages = 160
	}
	if cfg.Sweep.Schedule == "" {
		cfg.Sweep.Schedule = "@hourly"
	}
}

func defaultGenerateModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openai", "openai_compatible":
		return "gpt-4o"
	default:
		return "gemini-2.5-flash"
	}
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map
// if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

func updateLLMSection(homeDir string, mutate func(llm map[string]interface{})) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	llm, _ := raw["llm"].(map[string]interface{})
	if llm == nil {
		llm = make(map[string]interface{})
	}
	mutate(llm)
	raw["llm"] = llm
	return saveRawConfig(configPath, raw)
}

// SetModel updates the provider and models in config.yaml, preserving every
// other setting. Running processes pick the change up via the Watcher.
func SetModel(homeDir, provider, generateModel, reviewModel string) error {
	return updateLLMSection(homeDir, func(llm map[string]interface{}) {
		llm["provider"] = provider
		llm["generate_model"] = generateModel
		if reviewModel != "" {
			llm["review_model"] = reviewModel
		}
	})
}

// SetAPIKey persists the LLM API key in config.yaml, preserving other settings.
func SetAPIKey(homeDir, value string) error {
	return updateLLMSection(homeDir, func(llm map[string]interface{}) {
		llm["api_key"] = value
	})
}
