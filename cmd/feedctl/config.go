package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/unifeed/pkg/client"
	"github.com/Sternrassler/unifeed/pkg/feed"
	"github.com/spf13/viper"
)

const defaultBaseURL = "https://backend.researchhub.com"

// appConfig is the merged configuration: defaults, then the YAML file, then
// FEEDCTL_* environment variables, then flags.
type appConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	AuthToken         string        `mapstructure:"auth_token"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PageSize          int           `mapstructure:"page_size"`
	BatchSize         int           `mapstructure:"batch_size"`
	PrefetchAhead     int           `mapstructure:"prefetch_ahead"`
	ListenAddr        string        `mapstructure:"listen_addr"`
	LogLevel          string        `mapstructure:"log_level"`
	LogPretty         bool          `mapstructure:"log_pretty"`
}

func setDefaults(v *viper.Viper) {
	feedDefaults := feed.DefaultConfig()

	v.SetDefault("base_url", defaultBaseURL)
	v.SetDefault("user_agent", "feedctl/"+version)
	v.SetDefault("auth_token", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("requests_per_second", 5.0)
	v.SetDefault("burst", 5)
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("page_size", feedDefaults.ServerPageSize)
	v.SetDefault("batch_size", feedDefaults.RevealBatchSize)
	v.SetDefault("prefetch_ahead", feedDefaults.PrefetchAhead)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_pretty", true)
}

// loadConfig reads the configuration into v. An explicit config file must
// exist.
func loadConfig(v *viper.Viper, path string) (appConfig, error) {
	setDefaults(v)

	v.SetEnvPrefix("FEEDCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return appConfig{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return appConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func (c appConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be > 0 (got %v)", c.RequestsPerSecond)
	}
	if err := c.feedConfig().Validate(); err != nil {
		return err
	}
	return nil
}

func (c appConfig) feedConfig() feed.Config {
	return feed.Config{
		ServerPageSize:  c.PageSize,
		RevealBatchSize: c.BatchSize,
		PrefetchAhead:   c.PrefetchAhead,
	}
}

func (c appConfig) clientConfig() client.Config {
	cfg := client.DefaultConfig(c.BaseURL, c.UserAgent)
	cfg.AuthToken = c.AuthToken
	cfg.RequestsPerSecond = c.RequestsPerSecond
	cfg.Burst = c.Burst
	cfg.Timeout = c.Timeout
	return cfg
}
