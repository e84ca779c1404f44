package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Channel ChannelConfig `mapstructure:"channel"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	WSPath          string        `mapstructure:"ws_path"`
	PublishInterval time.Duration `mapstructure:"publish_interval"`
}

type ChannelConfig struct {
	// CompressionThreshold is the payload size, in bytes, at which transport
	// frames are zstd-compressed. Zero disables compression.
	CompressionThreshold int `mapstructure:"compression_threshold"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.listen", "127.0.0.1:8377")
	v.SetDefault("server.ws_path", "/channel")
	v.SetDefault("server.publish_interval", "16ms")
	v.SetDefault("channel.compression_threshold", 4096)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	// Environment variable support
	v.SetEnvPrefix("COMPOSERLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /")
	}
	if c.Server.PublishInterval <= 0 {
		return fmt.Errorf("server.publish_interval must be positive")
	}
	if c.Channel.CompressionThreshold < 0 {
		return fmt.Errorf("channel.compression_threshold must be >= 0")
	}
	return nil
}
