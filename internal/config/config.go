package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when NIMBUS_CONFIG is not set.
const DefaultPath = "config/nimbus.yaml"

type Config struct {
	Gemini    GeminiConfig             `yaml:"gemini"`
	Agents    map[string]AgentOverride `yaml:"agents"`
	Dispatch  DispatchConfig           `yaml:"dispatch"`
	Router    RouterConfig             `yaml:"router"`
	Telegram  TelegramConfig           `yaml:"telegram"`
	NATS      NATSConfig               `yaml:"nats"`
	Store     StoreConfig              `yaml:"store"`
	Web       WebConfig                `yaml:"web"`
	Scheduler SchedulerConfig          `yaml:"scheduler"`
	Vault     VaultConfig              `yaml:"vault"`
	Telemetry TelemetryConfig          `yaml:"telemetry"`
	Log       LogConfig                `yaml:"log"`

	// Path is the file the config was loaded from, empty when none existed.
	Path string `yaml:"-"`
}

type GeminiConfig struct {
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
	Video        VideoConfig   `yaml:"video"`
}

type VideoConfig struct {
	Model        string        `yaml:"model"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
}

// AgentOverride adjusts a built-in agent profile at startup.
type AgentOverride struct {
	Model string `yaml:"model"`
}

type DispatchConfig struct {
	AgentTimeout   time.Duration `yaml:"agent_timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

type RouterConfig struct {
	DefaultAgents []string `yaml:"default_agents"`
	// SmartModel, when set, lets the router ask the model which agents
	// should handle a message that names none.
	SmartModel string `yaml:"smart_model"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
	// MainChatID receives the results of scheduled directives.
	MainChatID int64 `yaml:"main_chat_id"`
}

type NATSConfig struct {
	// Host is the listen address; loopback unless nimbusctl runs elsewhere.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	// RunRetention is how long archived runs are kept. Zero keeps them
	// forever.
	RunRetention time.Duration `yaml:"run_retention"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() Config {
	return Config{
		Gemini: GeminiConfig{
			DefaultModel: "gemini-2.5-flash",
			Timeout:      2 * time.Minute,
			Video: VideoConfig{
				Model:        "veo-3.1-fast-generate-preview",
				PollInterval: 10 * time.Second,
				MaxPolls:     60,
			},
		},
		Dispatch: DispatchConfig{
			AgentTimeout: 90 * time.Second,
		},
		Router: RouterConfig{
			DefaultAgents: []string{"marketing"},
		},
		NATS: NATSConfig{
			Host: "127.0.0.1",
			Port: 4222,
		},
		Store: StoreConfig{
			Path: "data/nimbus.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
			RunRetention: 30 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "nimbus",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FilePath returns the config file location honoring NIMBUS_CONFIG.
func FilePath() string {
	if p := os.Getenv("NIMBUS_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

func Load() (*Config, error) {
	cfg := defaults()

	path := FilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		cfg.Path = path
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	// GEMINI_API_KEY wins over the generic API_KEY.
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("NIMBUS_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("NIMBUS_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("NIMBUS_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("NIMBUS_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("NIMBUS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("NIMBUS_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
	if v := os.Getenv("NIMBUS_AGENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.AgentTimeout = d
		}
	}
	if v := os.Getenv("NIMBUS_DEFAULT_AGENTS"); v != "" {
		cfg.Router.DefaultAgents = splitList(v)
	}
	if v := os.Getenv("NIMBUS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}

// Validate rejects values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Dispatch.AgentTimeout <= 0 {
		return fmt.Errorf("dispatch.agent_timeout must be positive")
	}
	if c.Dispatch.MaxConcurrency < 0 {
		return fmt.Errorf("dispatch.max_concurrency must not be negative")
	}
	if c.Scheduler.RunRetention < 0 {
		return fmt.Errorf("scheduler.run_retention must not be negative")
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}
	if c.Gemini.Video.MaxPolls <= 0 {
		return fmt.Errorf("gemini.video.max_polls must be positive")
	}
	if c.Gemini.Video.PollInterval <= 0 {
		return fmt.Errorf("gemini.video.poll_interval must be positive")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
