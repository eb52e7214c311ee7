// Package config loads the settings of the pool command binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/TheAlpha16/poolcmd/protocol"
)

// Config holds application configuration.
type Config struct {
	Valkey   ValkeyConfig
	Catalog  CatalogConfig
	Protocol ProtocolConfig
	Log      LogConfig
}

// ValkeyConfig locates the acknowledgement channel.
type ValkeyConfig struct {
	Address string
	Channel string
}

// CatalogConfig holds sqlite and genesis file settings.
type CatalogConfig struct {
	Path       string
	GenesisDir string `mapstructure:"genesis_dir"`
}

type ProtocolConfig struct {
	Version int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from file and env. Env var overrides use prefix POOLCMD_.
func Load() (Config, error) {
	v := viper.New()

	home, _ := os.UserHomeDir()
	v.SetDefault("valkey.address", "localhost:6379")
	v.SetDefault("valkey.channel", "pool-close-acks")
	v.SetDefault("catalog.path", filepath.Join(home, ".local", "share", "poolcmd", "catalog.db"))
	v.SetDefault("catalog.genesis_dir", ".")
	v.SetDefault("protocol.version", int(protocol.Default))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetConfigType("toml")

	if cfgPath := os.Getenv("POOLCMD_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(home, ".config", "poolcmd"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("POOLCMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if _, err := protocol.Validate(c.Protocol.Version); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Logger builds a logrus logger from the log settings.
func (c Config) Logger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)
	switch c.Log.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("log format: unknown %q", c.Log.Format)
	}
	return logger, nil
}
