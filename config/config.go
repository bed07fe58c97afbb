package config

import (
	"os"

	"chainq/logx"
	"chainq/store"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadQueueConfig reads and parses the queue.yml file
func LoadQueueConfig(path string) (*QueueConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		logx.Error("CONFIG", "Failed to open config file: ", err)
		return nil, err
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		logx.Error("CONFIG", "Failed to decode YAML: ", err)
		return nil, err
	}

	logx.Info("CONFIG", "Loaded queue config, store=", cfgFile.Config.Store.Type,
		" dir=", cfgFile.Config.Store.Directory)
	return &cfgFile.Config, nil
}

// LoadTuningConfig reads the tuning INI file ([queue] section)
func LoadTuningConfig(path string) (*store.TuningConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	queueSection := cfg.Section("queue")
	tuningCfg := &store.TuningConfig{}
	err = queueSection.MapTo(tuningCfg)
	if err != nil {
		return nil, err
	}
	return tuningCfg, nil
}
