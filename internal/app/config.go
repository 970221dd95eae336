package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	BundlePath string // hcl manifests
	Vars       map[string]any

	// Source is where off-package modules are fetched from: an http(s) base
	// URL, a ws(s) socket.io endpoint or a local directory. Empty disables
	// fetching beyond the cache.
	Source             string
	SocketNamespace    string
	InsecureSkipVerify bool

	CacheDir string // empty keeps the cache in memory
	Timeout  time.Duration
	Preload  []string

	StatusAddr string // empty disables the status server
	Report     bool   // print the stats report when the bundle settles

	LogFormat string
	LogLevel  string
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.BundlePath == "" {
		return nil, errors.New("BundlePath is a required configuration field and cannot be empty")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	return &cfg, nil
}

// fileConfig is the TOML representation of Config.
type fileConfig struct {
	Bundle             string         `toml:"bundle"`
	Source             string         `toml:"source"`
	Namespace          string         `toml:"namespace"`
	InsecureSkipVerify bool           `toml:"insecure_skip_verify"`
	CacheDir           string         `toml:"cache_dir"`
	Timeout            string         `toml:"timeout"`
	Preload            []string       `toml:"preload"`
	StatusAddr         string         `toml:"status_addr"`
	Report             bool           `toml:"report"`
	LogFormat          string         `toml:"log_format"`
	LogLevel           string         `toml:"log_level"`
	Vars               map[string]any `toml:"vars"`
}

// LoadFile reads a TOML config file. Relative bundle and cache paths are
// resolved against the directory of the file. Unknown keys are an error.
func LoadFile(path string) (Config, error) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg := Config{
		BundlePath:         resolve(path, fc.Bundle),
		Vars:               fc.Vars,
		Source:             fc.Source,
		SocketNamespace:    fc.Namespace,
		InsecureSkipVerify: fc.InsecureSkipVerify,
		CacheDir:           resolve(path, fc.CacheDir),
		Preload:            fc.Preload,
		StatusAddr:         fc.StatusAddr,
		Report:             fc.Report,
		LogFormat:          fc.LogFormat,
		LogLevel:           fc.LogLevel,
	}
	if fc.Timeout != "" {
		cfg.Timeout, err = time.ParseDuration(fc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("config file %s: invalid timeout: %w", path, err)
		}
	}
	if isLocalPath(fc.Source) {
		cfg.Source = resolve(path, fc.Source)
	}
	return cfg, nil
}

func resolve(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

func isLocalPath(source string) bool {
	return source != "" && !strings.Contains(source, "://")
}
