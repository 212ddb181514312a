package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

type Config struct {
	DatabaseBusyTimeout       time.Duration
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	DatabaseMaxRetries        int
	Hostname                  string
	JWTSecret                 string
	ServerHost                string
	ServerPort                int
}

const (
	environmentENV = "ENVIRONMENT"
	configFileENV  = "CONFIG_FILE"
	envPrefix      = "CIRCULATE_"
)

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        5,
		Hostname:                  hostname,
		ServerPort:                4270,
	}

	environment := os.Getenv(environmentENV)
	switch environment {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	k := koanf.New(".")

	// Optional YAML config file, then environment variable overrides on top.
	if path := os.Getenv(configFileENV); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	err = k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	applyOverrides(cfg, k)

	if environment == "production" && cfg.JWTSecret == "" {
		return nil, errors.New("jwt.secret must be set in production")
	}

	return cfg, nil
}

func applyOverrides(cfg *Config, k *koanf.Koanf) {
	if k.Exists("database.busy.timeout") {
		cfg.DatabaseBusyTimeout = k.Duration("database.busy.timeout")
	}
	if k.Exists("database.debug") {
		cfg.DatabaseDebug = k.Bool("database.debug")
	}
	if k.Exists("database.file.path") {
		cfg.DatabaseFilePath = k.String("database.file.path")
	}
	if k.Exists("database.max.retries") {
		cfg.DatabaseMaxRetries = k.Int("database.max.retries")
	}
	if k.Exists("jwt.secret") {
		cfg.JWTSecret = k.String("jwt.secret")
	}
	if k.Exists("server.host") {
		cfg.ServerHost = k.String("server.host")
	}
	if k.Exists("server.port") {
		cfg.ServerPort = k.Int("server.port")
	}
}
