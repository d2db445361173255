package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/scribe/core/document"
	"github.com/adalundhe/scribe/core/dispatch"
	"github.com/adalundhe/scribe/core/storage"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Sync     SyncConfig     `yaml:"sync"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Path         string `yaml:"path"`
	CacheMaxCost int64  `yaml:"cache_max_cost"`
}

type SyncConfig struct {
	// HistoryWindow is how many committed revisions each document handle
	// retains for transforming late arrivals.
	HistoryWindow int `yaml:"history_window"`

	// MaxOpenDocuments bounds the live handle map.
	MaxOpenDocuments int `yaml:"max_open_documents"`

	// EnforceChecksum rejects pushed revisions whose delta does not hash to
	// the claimed checksum. Reloadable at runtime.
	EnforceChecksum bool `yaml:"enforce_checksum"`
}

type DispatchConfig struct {
	MailboxCapacity int `yaml:"mailbox_capacity"`
	DecodeWorkers   int `yaml:"decode_workers"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "localhost:8080",
		},
		Storage: StorageConfig{
			Path: storage.DefaultStoreConfig().DBPath,
		},
		Sync: SyncConfig{
			HistoryWindow:    document.DefaultHistoryWindow,
			MaxOpenDocuments: document.DefaultMaxOpenDocuments,
			EnforceChecksum:  false,
		},
		Dispatch: DispatchConfig{
			MailboxCapacity: dispatch.DefaultMailboxCapacity,
			DecodeWorkers:   dispatch.DefaultDecodeWorkers,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	normalize(cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = def.Storage.Path
	}
	if cfg.Sync.HistoryWindow <= 0 {
		cfg.Sync.HistoryWindow = def.Sync.HistoryWindow
	}
	if cfg.Sync.MaxOpenDocuments <= 0 {
		cfg.Sync.MaxOpenDocuments = def.Sync.MaxOpenDocuments
	}
	if cfg.Dispatch.MailboxCapacity <= 0 {
		cfg.Dispatch.MailboxCapacity = def.Dispatch.MailboxCapacity
	}
	if cfg.Dispatch.DecodeWorkers <= 0 {
		cfg.Dispatch.DecodeWorkers = def.Dispatch.DecodeWorkers
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}
