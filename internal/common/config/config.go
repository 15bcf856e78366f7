// Package config provides configuration management for the Agent Runtime Core.
// It supports loading configuration from environment variables, a config file,
// and defaults, the way the rest of the ambient stack is configured.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the core.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace"`
	Provisioner ProvisionerConfig `mapstructure:"provisioner"`
	ChatBridge  ChatBridgeConfig  `mapstructure:"chatBridge"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// ServerConfig holds the command-surface HTTP/WebSocket listener configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`
	WriteTimeout int    `mapstructure:"writeTimeout"`
}

// DatabaseConfig holds the SQLite connection configuration.
type DatabaseConfig struct {
	Path               string `mapstructure:"path"`
	BusyTimeoutMs      int    `mapstructure:"busyTimeoutMs"`
	ReaderPoolSize     int    `mapstructure:"readerPoolSize"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// WorkspaceConfig holds the default workspace directory used when none is
// configured in the store yet.
type WorkspaceConfig struct {
	DefaultWorkingDir string `mapstructure:"defaultWorkingDir"`
}

// ProvisionerConfig holds discovery/installation configuration.
type ProvisionerConfig struct {
	HomeDir           string `mapstructure:"homeDir"` // defaults to "~/.iaagenthub"
	ArchiveTimeoutSec int    `mapstructure:"archiveTimeoutSec"`
}

// ChatBridgeConfig holds chat-bridge liveness tuning.
type ChatBridgeConfig struct {
	TickIntervalSec  int `mapstructure:"tickIntervalSec"`
	IdleThresholdSec int `mapstructure:"idleThresholdSec"`
	PongTimeoutSec   int `mapstructure:"pongTimeoutSec"`
	RestartDelaySec  int `mapstructure:"restartDelaySec"`
}

// SchedulerConfig holds the periodic due-task dispatch tuning.
type SchedulerConfig struct {
	TickIntervalSec int `mapstructure:"tickIntervalSec"`
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

func (d *DatabaseConfig) BusyTimeout() time.Duration {
	return time.Duration(d.BusyTimeoutMs) * time.Millisecond
}

func (c *ChatBridgeConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSec) * time.Second
}

func (c *ChatBridgeConfig) IdleThreshold() time.Duration {
	return time.Duration(c.IdleThresholdSec) * time.Second
}

func (c *ChatBridgeConfig) PongTimeout() time.Duration {
	return time.Duration(c.PongTimeoutSec) * time.Second
}

func (c *ChatBridgeConfig) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelaySec) * time.Second
}

func (s *SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSec) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("database.path", filepath.Join(home, ".iaagenthub", "iaagenthub.db"))
	v.SetDefault("database.busyTimeoutMs", 5000)
	v.SetDefault("database.readerPoolSize", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("workspace.defaultWorkingDir", home)

	v.SetDefault("provisioner.homeDir", filepath.Join(home, ".iaagenthub"))
	v.SetDefault("provisioner.archiveTimeoutSec", 120)

	v.SetDefault("chatBridge.tickIntervalSec", 45)
	v.SetDefault("chatBridge.idleThresholdSec", 90)
	v.SetDefault("chatBridge.pongTimeoutSec", 10)
	v.SetDefault("chatBridge.restartDelaySec", 3)

	v.SetDefault("scheduler.tickIntervalSec", 60)
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTHUB_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// Load reads configuration from environment variables, a config file, and
// defaults. Environment variables use the AGENTHUB_ prefix.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration, optionally looking in an extra config path.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/iaagenthub/")

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

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if cfg.Database.BusyTimeoutMs <= 0 {
		errs = append(errs, "database.busyTimeoutMs must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
