// Package config handles configuration loading for the mymeta agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from the -config flag) is checked first by FindConfig; then
// ./config.yaml, ~/.config/mymeta/config.yaml, /etc/mymeta/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mymeta", "config.yaml"))
	}

	paths = append(paths, "/etc/mymeta/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise the default search paths are tried in order.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mymeta configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Provider   string           `yaml:"provider"` // "ark" (default) or "ollama"
	Ark        ArkConfig        `yaml:"ark"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Agent      AgentConfig      `yaml:"agent"`
	Services   []ServiceConfig  `yaml:"services"`
	Search     SearchConfig     `yaml:"search"`
	GitHub     GitHubConfig     `yaml:"github"`
	Email      EmailConfig      `yaml:"email"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Calendar   CalendarConfig   `yaml:"calendar"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // bind address ("" = all interfaces)
	Port    int    `yaml:"port"`
}

// ArkConfig defines the Volcano Ark (Doubao) backend settings.
type ArkConfig struct {
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	APIBase         string  `yaml:"api_base"`
	TimeoutSec      float64 `yaml:"timeout_sec"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
}

// OllamaConfig defines the optional local Ollama backend.
type OllamaConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

// AgentConfig holds reasoning-loop knobs.
type AgentConfig struct {
	MaxIterations   int     `yaml:"max_iterations"`
	Temperature     float64 `yaml:"temperature"`
	WorkingDir      string  `yaml:"working_dir"`
	StopOnToolError bool    `yaml:"stop_on_tool_error"`
}

// ServiceConfig describes one process-backed tool service.
type ServiceConfig struct {
	Name       string            `yaml:"name"`
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	Strategy   string            `yaml:"strategy"` // "spawn" (default) or "pooled"
	TimeoutSec int               `yaml:"timeout_sec"`

	// MaxConcurrent caps in-flight subprocesses for the spawn
	// strategy, so a burst of tool calls cannot fork without bound.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Timeout returns the per-call timeout for this service.
func (s ServiceConfig) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

// SearchConfig defines the Tavily web search settings.
type SearchConfig struct {
	TavilyAPIKey string `yaml:"tavily_api_key"`
}

// GitHubConfig defines GitHub API access.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	APIBase string `yaml:"api_base"`
}

// EmailConfig groups SMTP send and IMAP read settings.
type EmailConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
	IMAP IMAPConfig `yaml:"imap"`
}

// SMTPConfig defines outbound mail delivery.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	StartTLS bool   `yaml:"starttls"` // false = implicit TLS (port 465)
}

// IMAPConfig defines inbound mailbox access.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Mailbox  string `yaml:"mailbox"` // default INBOX
}

// EmbeddingsConfig defines embedding generation for memory search.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"baseurl"` // Ollama URL
	Model   string `yaml:"model"`   // e.g. nomic-embed-text
}

// CalendarConfig defines where generated .ics files land.
type CalendarConfig struct {
	OutputDir string `yaml:"output_dir"`
	Timezone  string `yaml:"timezone"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded (${VAR} or $VAR) so secrets can stay out of the
// file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "ark"
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = 8300
	}
	if c.Ark.APIBase == "" {
		c.Ark.APIBase = "https://ark.cn-beijing.volces.com/api/v3"
	}
	if c.Ark.TimeoutSec <= 0 {
		c.Ark.TimeoutSec = 30
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = "http://localhost:11434"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 15
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = 0.2
	}
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.Email.IMAP.Mailbox == "" {
		c.Email.IMAP.Mailbox = "INBOX"
	}
}

// validate rejects configurations that would otherwise fail deep inside
// a request handler. Initialization failures belong here, at load time.
func (c *Config) validate() error {
	switch c.Provider {
	case "ark":
		if c.Ark.APIKey == "" {
			return fmt.Errorf("ark.api_key is required when provider is %q", c.Provider)
		}
		if c.Ark.Model == "" {
			return fmt.Errorf("ark.model is required when provider is %q", c.Provider)
		}
	case "ollama":
		if c.Ollama.Model == "" {
			return fmt.Errorf("ollama.model is required when provider is %q", c.Provider)
		}
	default:
		return fmt.Errorf("unknown provider %q (expected ark or ollama)", c.Provider)
	}

	for _, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service with command %q is missing a name", svc.Command)
		}
		if svc.Command == "" {
			return fmt.Errorf("service %q is missing a command", svc.Name)
		}
		switch svc.Strategy {
		case "", "spawn", "pooled":
		default:
			return fmt.Errorf("service %q has unknown strategy %q (expected spawn or pooled)", svc.Name, svc.Strategy)
		}
	}

	return nil
}
