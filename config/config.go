// Package config reads jobq settings from named keys.
//
// The engine never parses files itself. It asks a Source for named keys
// such as "monitor.max_thread_runtime", and a Source may be backed by a
// TOML file, environment variables, or a chain of both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

// Source looks up a named key.
type Source interface {
	Lookup(key string) (string, bool)
}

// TOMLSource reads keys from a toml tree. Dotted keys address tables,
// so "monitor.interval" is the interval key of [monitor] table.
type TOMLSource struct {
	tree *toml.Tree
}

// LoadTOML loads a toml file.
func LoadTOML(path string) (*TOMLSource, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &TOMLSource{tree: tree}, nil
}

// ParseTOML parses toml content.
func ParseTOML(content string) (*TOMLSource, error) {
	tree, err := toml.Load(content)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &TOMLSource{tree: tree}, nil
}

// Lookup implements Source.
func (s *TOMLSource) Lookup(key string) (string, bool) {
	v := s.tree.Get(key)
	if v == nil {
		return "", false
	}
	if _, ok := v.(*toml.Tree); ok {
		// a table is not a value.
		return "", false
	}
	return fmt.Sprint(v), true
}

// EnvSource reads keys from environment variables.
// Key "monitor.interval" is read from JOBQ_MONITOR_INTERVAL.
type EnvSource struct {
	Prefix string
}

// Lookup implements Source.
func (s EnvSource) Lookup(key string) (string, bool) {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "JOBQ_"
	}
	name := prefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	return os.LookupEnv(name)
}

// MapSource reads keys from a map. It is handy for tests.
type MapSource map[string]string

// Lookup implements Source.
func (s MapSource) Lookup(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// Chain looks up sources in order and returns the first hit.
type Chain []Source

// Lookup implements Source.
func (c Chain) Lookup(key string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// String returns the key's value, or def when the key is missing.
func String(src Source, key, def string) string {
	v, ok := src.Lookup(key)
	if !ok {
		return def
	}
	return v
}

// Bool returns the key's value as bool, or def when the key is missing.
func Bool(src Source, key string, def bool) (bool, error) {
	v, ok := src.Lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("%s: invalid bool: %q", key, v)
	}
	return b, nil
}

// Duration returns the key's value as duration, or def when the key is missing.
// A bare number is read as milliseconds.
func Duration(src Source, key string, def time.Duration) (time.Duration, error) {
	v, ok := src.Lookup(key)
	if !ok {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid duration: %q", key, v)
	}
	return d, nil
}

// Float returns the key's value as float64, or def when the key is missing.
func Float(src Source, key string, def float64) (float64, error) {
	v, ok := src.Lookup(key)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, fmt.Errorf("%s: invalid number: %q", key, v)
	}
	return f, nil
}
