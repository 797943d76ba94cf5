package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process-wide antfarm configuration. Values come from
// defaults, then ~/.openclaw/antfarm/config.yaml, then ANTFARM_*
// environment variables.
type Config struct {
	DataDir      string        `mapstructure:"data_dir"`
	LogLevel     string        `mapstructure:"log_level"`
	Gateway      GatewayConfig `mapstructure:"gateway"`
	PollSchedule string        `mapstructure:"poll_schedule"`
}

// GatewayConfig points at the cron gateway used to schedule agent polls.
type GatewayConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	defaultDataDir := filepath.Join(homeDir, ".openclaw", "antfarm")

	v := viper.New()
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("gateway.url", "")
	v.SetDefault("gateway.token", "")
	v.SetDefault("poll_schedule", "*/1 * * * *")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(defaultDataDir)

	v.SetEnvPrefix("ANTFARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; everything has a default.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "antfarm.db")
}

// WorkflowsDir is the root under which each installed workflow keeps
// one workspace directory per agent.
func (c *Config) WorkflowsDir() string {
	return filepath.Join(c.DataDir, "workflows")
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.WorkflowsDir(), 0755)
}
