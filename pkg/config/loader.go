package config

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.connectionLimit.maxPerUser", 5)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("server.trustProxyHeaders", false)
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("datastore.path", "huddle.db")
	v.SetDefault("datastore.connectTimeout", "10s")
	v.SetDefault("datastore.reconnectTimeout", "12s")
	v.SetDefault("datastore.probeInterval", "5s")
	v.SetDefault("datastore.operationTimeout", "3s")
	v.SetDefault("reconcile.writeTimeout", "5s")
	v.SetDefault("reconcile.maxDeferred", 1024)

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// validate policies early so a typo fails startup rather than the first degraded request
	if _, err := CompileFallbackPolicy(cfg.Fallback); err != nil {
		return nil, err
	}
	return &cfg, nil
}
