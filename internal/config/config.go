// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nexus-community/groups-cli/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Matching MatchingConfig `yaml:"matching" mapstructure:"matching"`
	Ranking  RankingConfig  `yaml:"ranking" mapstructure:"ranking"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// MatchingConfig configures the membership resolver.
type MatchingConfig struct {
	DistanceThresholdKM float64 `yaml:"distance_threshold_km" mapstructure:"distance_threshold_km"`
	TextConfidence      float64 `yaml:"text_confidence" mapstructure:"text_confidence"`
	BatchConcurrency    int     `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	WritesPerSecond     float64 `yaml:"writes_per_second" mapstructure:"writes_per_second"`
}

// RankingConfig configures the featured-group ranking job.
type RankingConfig struct {
	HubLimit        int `yaml:"hub_limit" mapstructure:"hub_limit"`
	HubMaxPerParent int `yaml:"hub_max_per_parent" mapstructure:"hub_max_per_parent"`
	CommunityLimit  int `yaml:"community_limit" mapstructure:"community_limit"`
}

// ServerConfig configures the read-only HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GROUPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("matching.distance_threshold_km", 50.0)
	v.SetDefault("matching.text_confidence", 90.0)
	v.SetDefault("matching.batch_concurrency", 8)
	v.SetDefault("matching.writes_per_second", 0)
	v.SetDefault("ranking.hub_limit", 6)
	v.SetDefault("ranking.hub_max_per_parent", 2)
	v.SetDefault("ranking.community_limit", 6)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !eris.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read config file")
		}
		// No config file is fine; env and defaults carry the run.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// InitLogger builds the global zap logger from LogConfig.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
