// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Hallpass Contributors

// Package config loads hallpass configuration: built-in defaults, then
// an optional YAML file, then command-line flag overrides, in that
// order.
package config

import (
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/hallpass/hallpass/internal/authz"
	"github.com/hallpass/hallpass/internal/authz/audit"
)

// Config is the full configuration surface of the engine and its
// supporting processes.
type Config struct {
	Database struct {
		URL string
	}
	Cache struct {
		TTL time.Duration
	}
	Engine struct {
		CheckTimeout time.Duration
	}
	Sweeper struct {
		Interval time.Duration
	}
	Audit struct {
		Mode    audit.Mode
		WALPath string
	}
	Observability struct {
		Addr string
	}
	Log struct {
		Format string
	}

	// Levels maps a numeric level to its permission patterns. Empty
	// means the built-in table. The designer is responsible for keeping
	// custom tables monotonic; the engine does not enforce it.
	Levels map[int][]string
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.Cache.TTL = 2 * time.Minute
	cfg.Engine.CheckTimeout = 3 * time.Second
	cfg.Sweeper.Interval = 5 * time.Minute
	cfg.Audit.Mode = audit.ModeAll
	cfg.Observability.Addr = "127.0.0.1:9180"
	cfg.Log.Format = "json"
	return cfg
}

// Load builds the configuration. path may be empty (defaults only);
// flags may be nil. Flag names mirror config keys with dots
// ("cache.ttl", "database.url").
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.
				Code("CONFIG_INVALID").
				With("path", path).
				Wrapf(err, "loading config file")
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").Wrapf(err, "loading flags")
		}
	}

	if v := k.String("database.url"); v != "" {
		cfg.Database.URL = v
	}
	if v := k.Duration("cache.ttl"); v > 0 {
		cfg.Cache.TTL = v
	}
	if v := k.Duration("engine.check_timeout"); v > 0 {
		cfg.Engine.CheckTimeout = v
	}
	if v := k.Duration("sweeper.interval"); v > 0 {
		cfg.Sweeper.Interval = v
	}
	if v := k.String("audit.mode"); v != "" {
		mode, err := audit.ParseMode(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Audit.Mode = mode
	}
	if v := k.String("audit.wal_path"); v != "" {
		cfg.Audit.WALPath = v
	}
	if v := k.String("observability.addr"); v != "" {
		cfg.Observability.Addr = v
	}
	if v := k.String("log.format"); v != "" {
		cfg.Log.Format = v
	}

	if k.Exists("levels") {
		levels, err := parseLevels(k.Get("levels"))
		if err != nil {
			return Config{}, err
		}
		cfg.Levels = levels
	}

	return cfg, nil
}

// LevelTable compiles the configured level table, falling back to the
// built-in one when no custom table is set.
func (c Config) LevelTable() (*authz.LevelTable, error) {
	if len(c.Levels) == 0 {
		return authz.DefaultLevelTable(), nil
	}
	table, err := authz.NewLevelTable(c.Levels)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "compiling level table")
	}
	return table, nil
}

// parseLevels converts the raw YAML mapping (level number -> pattern
// list) into the table definition shape.
func parseLevels(raw any) (map[int][]string, error) {
	mapped, ok := raw.(map[string]any)
	if !ok {
		return nil, oops.Code("CONFIG_INVALID").Errorf("levels must be a mapping of level number to pattern list")
	}

	out := make(map[int][]string, len(mapped))
	for key, val := range mapped {
		level, err := strconv.Atoi(key)
		if err != nil {
			return nil, oops.
				Code("CONFIG_INVALID").
				With("level", key).
				Errorf("level keys must be integers")
		}

		items, ok := val.([]any)
		if !ok {
			return nil, oops.
				Code("CONFIG_INVALID").
				With("level", key).
				Errorf("level %q must map to a list of permission patterns", key)
		}
		patterns := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, oops.
					Code("CONFIG_INVALID").
					With("level", key).
					Errorf("permission patterns must be strings")
			}
			patterns = append(patterns, s)
		}
		out[level] = patterns
	}
	return out, nil
}
