package main

import (
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/josh-project/josh-sub001/cache"
)

const defaultRefPrefix = "refs/josh/filtered/"

// Config is the configuration of josh-filter, usually read from a yaml file.
type Config struct {
	// Repo is the path of the repository, bare or with a work tree.
	Repo string `yaml:"repo" validate:"required"`
	// RefPrefix is prepended to the names of the filtered refs.
	RefPrefix string      `yaml:"ref_prefix" validate:"omitempty,startswith=refs/,endswith=/"`
	Cache     CacheConfig `yaml:"cache"`
	LogLevel  string      `yaml:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	// Trace prints the spans of walks and pushes to stderr.
	Trace bool `yaml:"trace"`
}

type CacheConfig struct {
	// Backends are tried in order, bolt if empty.
	Backends   []string `yaml:"backends" validate:"dive,oneof=bolt badger notes sharded"`
	ShardBatch int      `yaml:"shard_batch" validate:"gte=0"`
}

var validate = validator.New()

func defaultConfig() *Config {
	return &Config{
		RefPrefix: defaultRefPrefix,
		LogLevel:  "info",
	}
}

// ParseConfigYAML reads the configuration on top of the defaults. The result is not validated.
func ParseConfigYAML(file []byte) (*Config, error) {
	result := defaultConfig()

	if err := yaml.Unmarshal(file, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (c *Config) cacheOptions() []cache.Option {
	var opts []cache.Option
	if len(c.Cache.Backends) > 0 {
		opts = append(opts, cache.WithKinds(c.Cache.Backends...))
	}
	if c.Cache.ShardBatch > 0 {
		opts = append(opts, cache.WithShardBatch(c.Cache.ShardBatch))
	}
	return opts
}
