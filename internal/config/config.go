// Package config loads signalctl settings from an optional YAML file with
// SIGNALGATE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"example.com/signalgate/internal/common"
)

// DefaultFile is read from the working directory when no file is named.
const DefaultFile = "signalgate.yaml"

type Logs struct {
	Level      string `yaml:"level" env:"SIGNALGATE_LOG_LEVEL"`
	Directory  string `yaml:"directory" env:"SIGNALGATE_LOG_DIR"`
	MaxSizeMB  int    `yaml:"maxSizeMB" env:"SIGNALGATE_LOG_MAX_SIZE_MB"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"SIGNALGATE_LOG_MAX_AGE_DAYS"`
	MaxBackups int    `yaml:"maxBackups" env:"SIGNALGATE_LOG_MAX_BACKUPS"`
	Compress   bool   `yaml:"compress" env:"SIGNALGATE_LOG_COMPRESS"`
}

type Config struct {
	Signalsets  string `yaml:"signalsets" env:"SIGNALGATE_SIGNALSETS"`
	TestCases   string `yaml:"testCases" env:"SIGNALGATE_TEST_CASES"`
	CANIDFormat string `yaml:"canIdFormat" env:"SIGNALGATE_CAN_ID_FORMAT"`
	Concurrency int    `yaml:"concurrency" env:"SIGNALGATE_CONCURRENCY"`
	AuditLog    string `yaml:"auditLog" env:"SIGNALGATE_AUDIT_LOG"`
	Years       []int  `yaml:"years" env:"SIGNALGATE_YEARS" envSeparator:","`
	Logs        Logs   `yaml:"logs"`
}

// Load reads path (or DefaultFile when path is empty and the file exists),
// applies environment overrides and fills defaults. Relative paths in the
// file resolve against the file's directory.
func Load(path string) (Config, error) {
	var cfg Config
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := readFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
		path = ""
	}
	if path != "" {
		baseDir := filepath.Dir(path)
		cfg.Signalsets = resolvePath(baseDir, cfg.Signalsets)
		cfg.TestCases = resolvePath(baseDir, cfg.TestCases)
		cfg.AuditLog = resolvePath(baseDir, cfg.AuditLog)
		cfg.Logs.Directory = resolvePath(baseDir, cfg.Logs.Directory)
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func resolvePath(baseDir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(baseDir, p))
}

func applyDefaults(cfg *Config) {
	if cfg.Signalsets == "" {
		cfg.Signalsets = filepath.Join("signalsets", "v3")
	}
	if cfg.TestCases == "" {
		cfg.TestCases = filepath.Join("tests", "test_cases")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.Logs.Level == "" {
		cfg.Logs.Level = "info"
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
}

// LogOptions maps the logs section onto common.NewLogger options.
func (c Config) LogOptions() common.LogOptions {
	return common.LogOptions{
		Level:      c.Logs.Level,
		Directory:  c.Logs.Directory,
		FileName:   "signalctl.log",
		MaxSizeMB:  c.Logs.MaxSizeMB,
		MaxAgeDays: c.Logs.MaxAgeDays,
		MaxBackups: c.Logs.MaxBackups,
		Compress:   c.Logs.Compress,
	}
}
