package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram    TelegramConfig    `yaml:"telegram"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Worker      WorkerConfig      `yaml:"worker"`
	LLM         LLMConfig         `yaml:"llm"`
	NATS        NATSConfig        `yaml:"nats"`
	Store       StoreConfig       `yaml:"store"`
	Web         WebConfig         `yaml:"web"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

// CoordinatorConfig lists the worker fleet in display order.
type CoordinatorConfig struct {
	Workers      []WorkerEndpoint `yaml:"workers"`
	RetryBackoff time.Duration    `yaml:"retry_backoff"`
}

type WorkerEndpoint struct {
	Role       string        `yaml:"role"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type WorkerConfig struct {
	Role               string        `yaml:"role"`
	Port               int           `yaml:"port"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	OllamaURL string `yaml:"ollama_url"`
	MaxTokens int64  `yaml:"max_tokens"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
	// EventRetention bounds the replay log of events; zero disables it.
	EventRetention time.Duration `yaml:"event_retention"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
	// Retention is how long run history is kept; zero keeps it forever.
	Retention time.Duration `yaml:"retention"`
	// PruneSchedule is the cron expression for deleting expired runs.
	PruneSchedule string `yaml:"prune_schedule"`
}

type WebConfig struct {
	Port int    `yaml:"port"`
	Auth string `yaml:"auth"`
}

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
)

func defaults() Config {
	return Config{
		Coordinator: CoordinatorConfig{
			Workers: []WorkerEndpoint{
				{Role: "buyer", URL: "http://localhost:8001/run", Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries},
				{Role: "seller", URL: "http://localhost:8002/run", Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries},
				{Role: "price", URL: "http://localhost:8003/run", Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries},
				{Role: "neighborhood", URL: "http://localhost:8004/run", Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries},
			},
			RetryBackoff: time.Second,
		},
		Worker: WorkerConfig{
			Port:               8001,
			SessionIdleTimeout: 30 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			OllamaURL: "http://localhost:11434",
			MaxTokens: 4096,
		},
		NATS: NATSConfig{
			Enabled:        true,
			Host:           "127.0.0.1",
			Port:           4222,
			DataDir:        "data/nats",
			EventRetention: 24 * time.Hour,
		},
		Store: StoreConfig{
			Path:          "data/realtymesh.db",
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "0 3 * * *",
		},
		Web: WebConfig{
			Port: 8080,
		},
	}
}

// Path returns the config file location.
func Path() string {
	if path := os.Getenv("REALTYMESH_CONFIG"); path != "" {
		return path
	}
	return "config/realtymesh.yaml"
}

func Load() (*Config, error) {
	return LoadFile(Path())
}

func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// A workers list in the file replaces the default fleet entirely
		cfg.Coordinator.Workers = nil
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if cfg.Coordinator.Workers == nil {
			cfg.Coordinator.Workers = defaults().Coordinator.Workers
		}
	}

	applyEnv(&cfg)
	fillWorkerDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func fillWorkerDefaults(cfg *Config) {
	for i := range cfg.Coordinator.Workers {
		w := &cfg.Coordinator.Workers[i]
		if w.Timeout <= 0 {
			w.Timeout = DefaultTimeout
		}
		if w.MaxRetries <= 0 {
			w.MaxRetries = DefaultMaxRetries
		}
	}
}

// Validate rejects worker lists with empty or duplicate roles.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Coordinator.Workers))
	for i, w := range c.Coordinator.Workers {
		if w.Role == "" {
			return fmt.Errorf("coordinator.workers[%d]: role is required", i)
		}
		if len(strings.Fields(w.URL)) == 0 {
			return fmt.Errorf("coordinator.workers[%d] (%s): url is required", i, w.Role)
		}
		if seen[w.Role] {
			return fmt.Errorf("coordinator.workers: duplicate role %q", w.Role)
		}
		seen[w.Role] = true
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REALTYMESH_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("REALTYMESH_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("REALTYMESH_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.LLM.OllamaURL = v
	}
	if v := os.Getenv("REALTYMESH_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("REALTYMESH_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("REALTYMESH_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("REALTYMESH_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}
