// Package config handles Parley configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/parley/config.yaml, /etc/parley/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "parley", "config.yaml"))
	}

	paths = append(paths, "/etc/parley/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
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

// Duration is a time.Duration that decodes from YAML strings such as
// "500ms" or "3h". Bare integers are taken as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds all Parley configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Session   SessionConfig   `yaml:"session"`
	Memory    MemoryConfig    `yaml:"memory"`
	Agent     AgentConfig     `yaml:"agent"`
	Tools     ToolsConfig     `yaml:"tools"`
	Auth      AuthConfig      `yaml:"auth"`
	Media     MediaConfig     `yaml:"media"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	CalDAV    CalDAVConfig    `yaml:"caldav"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OllamaConfig defines the Ollama reasoning-engine endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"` // Default: http://localhost:11434
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// SessionConfig governs the in-memory session store lifecycle.
type SessionConfig struct {
	// TTL is the maximum idle duration before a session is evicted.
	TTL Duration `yaml:"ttl"`
	// SweepInterval is how often the background sweep scans for expired
	// sessions. Zero disables the sweep; expiry is then only checked
	// lazily on access.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// MemoryConfig sets the default memory strategy for new sessions.
type MemoryConfig struct {
	// Kind is "buffer" or "summary".
	Kind string `yaml:"kind"`
	// MaxTurns caps buffer memory length. Zero means unbounded.
	MaxTurns int `yaml:"max_turns"`
	// SummaryTail is how many raw turns summary memory retains before
	// older material is condensed.
	SummaryTail int `yaml:"summary_tail"`
}

// AgentConfig governs the execution loop.
type AgentConfig struct {
	// Model is the default model identifier for new sessions.
	Model string `yaml:"model"`
	// Temperature is the default sampling temperature for new sessions.
	Temperature float64 `yaml:"temperature"`
	// MaxIterations bounds reasoning/tool-dispatch round-trips per
	// exchange.
	MaxIterations int `yaml:"max_iterations"`
	// EngineRetries is how many times a failed reasoning call is
	// retried before the exchange fails.
	EngineRetries int `yaml:"engine_retries"`
	// EngineBackoff is the base delay between reasoning retries,
	// doubled per attempt.
	EngineBackoff Duration `yaml:"engine_backoff"`
	// EngineTimeout caps a single reasoning call.
	EngineTimeout Duration `yaml:"engine_timeout"`
}

// ToolsConfig selects which registered tools sessions get by default.
type ToolsConfig struct {
	// Enabled lists tool names offered to new sessions. Empty means
	// every registered tool.
	Enabled []string `yaml:"enabled"`
}

// AuthConfig defines API-key authentication settings.
type AuthConfig struct {
	// Enabled turns on API-key checks for the HTTP API.
	Enabled bool `yaml:"enabled"`
	// AdminKey guards key minting and usage endpoints.
	AdminKey string `yaml:"admin_key"`
	// DBPath overrides the key store location (default: data_dir/auth.db).
	DBPath string `yaml:"db_path"`
}

// MediaConfig governs media ingestion.
type MediaConfig struct {
	// MaxBytes caps a single fetched media body.
	MaxBytes int64 `yaml:"max_bytes"`
}

// MQTTConfig defines the broker used by the send_notification tool.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // e.g. mqtt://broker.local:1883
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// TopicPrefix is prepended to notification topics.
	TopicPrefix string `yaml:"topic_prefix"`
}

// SMTPConfig defines outbound mail delivery for the send_email tool.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// StartTLS selects plain-then-upgrade (port 587) over implicit TLS (465).
	StartTLS bool   `yaml:"starttls"`
	From     string `yaml:"from"`
	// AllowedRecipients restricts who the agent may mail. Empty allows all.
	AllowedRecipients []string `yaml:"allowed_recipients"`
}

// CalDAVConfig defines the calendar server for the calendar tools.
type CalDAVConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Calendar is the collection path. Empty means discover the first.
	Calendar string `yaml:"calendar"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Ollama: OllamaConfig{URL: "http://localhost:11434"},
		Session: SessionConfig{
			TTL:           Duration(3 * time.Hour),
			SweepInterval: Duration(10 * time.Minute),
		},
		Memory: MemoryConfig{
			Kind:        "buffer",
			MaxTurns:    100,
			SummaryTail: 6,
		},
		Agent: AgentConfig{
			Model:         "qwen3:4b",
			Temperature:   0.7,
			MaxIterations: 10,
			EngineRetries: 2,
			EngineBackoff: Duration(500 * time.Millisecond),
			EngineTimeout: Duration(2 * time.Minute),
		},
		Media: MediaConfig{
			MaxBytes: 5 * 1024 * 1024,
		},
		MQTT:    MQTTConfig{TopicPrefix: "parley"},
		SMTP:    SMTPConfig{Port: 587, StartTLS: true},
		DataDir: "./data",
	}
}
