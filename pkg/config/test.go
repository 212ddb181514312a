package config

import "time"

func loadTestConfig(cfg *Config) {
	cfg.DatabaseFilePath = ":memory:"
	cfg.JWTSecret = "test-secret"
	cfg.ServerHost = "127.0.0.1"
	cfg.ServerPort = 0
}

// NewForTest returns a config suitable for tests without consulting the
// environment. Tests that need a shared on-disk database should override
// DatabaseFilePath with a temp file.
func NewForTest() *Config {
	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 1,
		DatabaseConnectRetryDelay: 10 * time.Millisecond,
		DatabaseMaxRetries:        5,
		Hostname:                  "test",
	}
	loadTestConfig(cfg)
	return cfg
}
