package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort              = 3000
	DefaultHost              = "127.0.0.1"
	DefaultConfigFilename    = "config.yaml"
	DefaultEnvFilename       = ".env"
	DefaultProfile           = "default"
	DefaultManagedProxyURL   = "http://127.0.0.1:8317"
	DefaultManagedProxyRoute = "/api/provider/"
)

// Adapter kinds an API provider can declare.
const (
	AdapterAnthropic  = "anthropic"
	AdapterOpenAI     = "openai"
	AdapterOpenRouter = "openrouter"
	AdapterCustom     = "custom"
)

var ErrProfileNotFound = errors.New("profile not found")

// TierConfig names the provider/model pair serving one tier and the ordered
// alternates tried when it is unavailable. Fallback entries nest.
type TierConfig struct {
	Provider string       `yaml:"provider" json:"provider" validate:"required"`
	Model    string       `yaml:"model" json:"model" validate:"required"`
	Fallback []TierConfig `yaml:"fallback,omitempty" json:"fallback,omitempty" validate:"omitempty,dive"`
}

type Tiers struct {
	Opus   TierConfig `yaml:"opus" json:"opus"`
	Sonnet TierConfig `yaml:"sonnet" json:"sonnet"`
	Haiku  TierConfig `yaml:"haiku" json:"haiku"`
}

type RouterProfile struct {
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Tiers       Tiers  `yaml:"tiers" json:"tiers"`
}

// APIProvider is a backend reached directly with an API key read from AuthEnv.
type APIProvider struct {
	Adapter string            `yaml:"adapter" json:"adapter" validate:"required,oneof=anthropic openai openrouter custom"`
	BaseURL string            `yaml:"base_url" json:"base_url" validate:"required,url"`
	AuthEnv string            `yaml:"auth_env,omitempty" json:"auth_env,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

type ManagedProxy struct {
	BaseURL string `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
}

type Config struct {
	Host          string                   `yaml:"host,omitempty" json:"host,omitempty"`
	Port          int                      `yaml:"port,omitempty" json:"port,omitempty" validate:"gte=0,lte=65535"`
	ActiveProfile string                   `yaml:"active_profile,omitempty" json:"active_profile,omitempty"`
	APIKey        string                   `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	CountTokens   *bool                    `yaml:"count_tokens,omitempty" json:"count_tokens,omitempty"`
	ManagedProxy  ManagedProxy             `yaml:"managed_proxy,omitempty" json:"managed_proxy,omitempty"`
	Providers     map[string]APIProvider   `yaml:"providers,omitempty" json:"providers,omitempty" validate:"dive"`
	Profiles      map[string]RouterProfile `yaml:"profiles" json:"profiles" validate:"dive"`
}

// TokenCounting reports whether input tokens are estimated per request.
func (c *Config) TokenCounting() bool {
	return c.CountTokens == nil || *c.CountTokens
}

func (c *Config) Profile(name string) (*RouterProfile, error) {
	if name == "" {
		name = c.ActiveProfile
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	return &profile, nil
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ActiveProfile == "" {
		cfg.ActiveProfile = DefaultProfile
	}
	if cfg.ManagedProxy.BaseURL == "" {
		cfg.ManagedProxy.BaseURL = DefaultManagedProxyURL
	}
}

type Manager struct {
	configPath  string
	envPath     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
		envPath:    filepath.Join(baseDir, DefaultEnvFilename),
	}
}

// NewManagerWithPath uses an explicit config file; the .env file is looked up
// next to it.
func NewManagerWithPath(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
		envPath:    filepath.Join(filepath.Dir(configPath), DefaultEnvFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	// Already-set variables win over the .env file.
	if _, err := os.Stat(m.envPath); err == nil {
		if err := godotenv.Load(m.envPath); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		cfg = &Config{}
		ApplyDefaults(cfg)
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
