// Package config provides configuration management for sandboxctl.
// It supports loading configuration from environment variables, an optional
// config file, and defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for sandboxctl.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Run       RunConfig       `mapstructure:"run"`
	Evidence  EvidenceConfig  `mapstructure:"evidence"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP front-door configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// PostgresConfig holds the store's database connection configuration.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig holds event-bus configuration. An empty URL selects the
// in-process memory bus instead of a real NATS connection.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// DockerConfig holds SandboxDriver connection configuration.
type DockerConfig struct {
	Host           string `mapstructure:"host"`
	APIVersion     string `mapstructure:"apiVersion"`
	DefaultNetwork string `mapstructure:"defaultNetwork"`
	VolumeLabel    string `mapstructure:"volumeLabel"`
}

// WorkspaceConfig holds workspace lifecycle configuration.
type WorkspaceConfig struct {
	Image        string `mapstructure:"image"`
	WarmIdleMin  int    `mapstructure:"warmIdleMinutes"`
	ColdTTLDays  int    `mapstructure:"coldTtlDays"`
	AgentPort    int    `mapstructure:"agentPort"`
}

// RunConfig holds run-lifecycle and quota configuration.
type RunConfig struct {
	MaxPerDay       int  `mapstructure:"maxPerDay"`
	TimeoutSeconds  int  `mapstructure:"timeoutSeconds"`
	ForceMockCodex  bool `mapstructure:"forceMockCodex"`
}

// EvidenceConfig holds evidence-bundle retention configuration.
type EvidenceConfig struct {
	Root     string `mapstructure:"root"`
	TTLDays  int    `mapstructure:"ttlDays"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// OpenAI credentials are read directly from the environment at sandbox-launch
// time rather than cached on Config, since they must reflect the live
// environment when a workspace is opened (see internal/workspace).

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// WarmIdle returns the warm-idle threshold as a time.Duration.
func (w *WorkspaceConfig) WarmIdle() time.Duration {
	return time.Duration(w.WarmIdleMin) * time.Minute
}

// ColdTTL returns the cold-workspace retention window as a time.Duration.
func (w *WorkspaceConfig) ColdTTL() time.Duration {
	return time.Duration(w.ColdTTLDays) * 24 * time.Hour
}

// Timeout returns the per-run timeout as a time.Duration.
func (r *RunConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// TTL returns the evidence-bundle retention window as a time.Duration.
func (e *EvidenceConfig) TTL() time.Duration {
	return time.Duration(e.TTLDays) * 24 * time.Hour
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("SANDBOXCTL_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.maxConns", 25)
	v.SetDefault("postgres.minConns", 5)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "sandboxctl")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("docker.host", defaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")
	v.SetDefault("docker.defaultNetwork", "sandboxctl-network")
	v.SetDefault("docker.volumeLabel", "sandboxctl.managed")

	v.SetDefault("workspace.image", "sandboxctl/workspace:latest")
	v.SetDefault("workspace.warmIdleMinutes", 20)
	v.SetDefault("workspace.coldTtlDays", 30)
	v.SetDefault("workspace.agentPort", 7000)

	v.SetDefault("run.maxPerDay", 500)
	v.SetDefault("run.timeoutSeconds", 60)
	v.SetDefault("run.forceMockCodex", false)

	v.SetDefault("evidence.root", defaultEvidenceRoot())
	v.SetDefault("evidence.ttlDays", 180)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// defaultDockerHost returns the platform-appropriate Docker socket path,
// respecting the standard DOCKER_HOST override.
func defaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

func defaultEvidenceRoot() string {
	if runtime.GOOS == "windows" {
		return `C:\ProgramData\sandboxctl\evidence`
	}
	return "/var/lib/sandboxctl/evidence"
}

// Load reads configuration from environment variables, an optional
// config.yaml, and defaults. Environment variables use the SANDBOXCTL_
// prefix.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration, searching configPath (if non-empty) in
// addition to the default search locations for config.yaml.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SANDBOXCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the literal env var names operators expect,
	// which don't follow the SANDBOXCTL_<SECTION>_<FIELD> convention.
	_ = v.BindEnv("postgres.url", "POSTGRES_URL")
	_ = v.BindEnv("workspace.image", "WORKSPACE_IMAGE")
	_ = v.BindEnv("workspace.warmIdleMinutes", "WARM_IDLE_MINUTES")
	_ = v.BindEnv("run.maxPerDay", "MAX_RUNS_PER_DAY")
	_ = v.BindEnv("workspace.coldTtlDays", "WORKSPACE_COLD_TTL_DAYS")
	_ = v.BindEnv("evidence.ttlDays", "EVIDENCE_TTL_DAYS")
	_ = v.BindEnv("evidence.root", "EVIDENCE_ROOT")
	_ = v.BindEnv("run.forceMockCodex", "FORCE_MOCK_CODEX")
	_ = v.BindEnv("logging.level", "SANDBOXCTL_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sandboxctl/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that configuration values are well-formed.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Postgres.URL == "" {
		errs = append(errs, "POSTGRES_URL is required")
	}

	if cfg.Workspace.Image == "" {
		errs = append(errs, "WORKSPACE_IMAGE is required")
	}
	if cfg.Workspace.WarmIdleMin <= 0 {
		errs = append(errs, "workspace.warmIdleMinutes must be positive")
	}
	if cfg.Workspace.ColdTTLDays <= 0 {
		errs = append(errs, "workspace.coldTtlDays must be positive")
	}

	if cfg.Run.MaxPerDay <= 0 {
		errs = append(errs, "run.maxPerDay must be positive")
	}
	if cfg.Run.TimeoutSeconds <= 0 {
		errs = append(errs, "run.timeoutSeconds must be positive")
	}

	if cfg.Evidence.TTLDays <= 0 {
		errs = append(errs, "evidence.ttlDays must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
