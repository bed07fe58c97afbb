package config

import (
	"chainq/store"
)

// QueueConfig holds the block queue node configuration
type QueueConfig struct {
	Store       store.StoreConfig `yaml:"store"`
	MetricsAddr string            `yaml:"metrics_addr"`
	TuningPath  string            `yaml:"tuning_path"`
}

// ConfigFile is the top-level structure for queue.yml
type ConfigFile struct {
	Config QueueConfig `yaml:"config"`
}
