package server

import (
	"blockserver/internal/auth"
	"blockserver/internal/dbpool"
	"blockserver/internal/metrics"
	"blockserver/internal/quota"
	"blockserver/internal/transfer"
)

type Config struct {
	Broker       *dbpool.Broker
	Auth         auth.Backend
	Dispatcher   *transfer.Dispatcher
	Policy       quota.Policy
	Metrics      *metrics.Recorder
	TempDir      string
	DefaultQuota int64
}

type ConfigOption func(*Config)

func WithBroker(broker *dbpool.Broker) ConfigOption {
	return func(cfg *Config) {
		cfg.Broker = broker
	}
}

func WithAuthBackend(backend auth.Backend) ConfigOption {
	return func(cfg *Config) {
		cfg.Auth = backend
	}
}

func WithDispatcher(dispatcher *transfer.Dispatcher) ConfigOption {
	return func(cfg *Config) {
		cfg.Dispatcher = dispatcher
	}
}

func WithPolicy(policy quota.Policy) ConfigOption {
	return func(cfg *Config) {
		cfg.Policy = policy
	}
}

func WithMetrics(recorder *metrics.Recorder) ConfigOption {
	return func(cfg *Config) {
		cfg.Metrics = recorder
	}
}

// WithTempDir sets the directory upload bodies are spooled into.
func WithTempDir(dir string) ConfigOption {
	return func(cfg *Config) {
		cfg.TempDir = dir
	}
}

// WithDefaultQuota sets the storage quota in bytes of newly created users.
func WithDefaultQuota(bytes int64) ConfigOption {
	return func(cfg *Config) {
		cfg.DefaultQuota = bytes
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
