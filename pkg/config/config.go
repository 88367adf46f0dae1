// Package config loads the kernel configuration from a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Validation errors.
var (
	ErrInvalidFrames    = errors.New("frames must be positive")
	ErrInvalidBigStride = errors.New("big_stride must be positive")
	ErrInvalidPriority  = errors.New("default_priority must be at least 2")
	ErrMissingInitProc  = errors.New("init_proc must be set")
)

// Config is the kernel configuration.
type Config struct {
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `json:"log_level"`
	// LogFile is an optional file the log is copied to.
	LogFile string `json:"log_file"`
	// Frames is the number of physical frames.
	Frames int `json:"frames"`
	// BigStride is divided by a task's priority to get its pass.
	BigStride uint64 `json:"big_stride"`
	// DefaultPriority is given to every new task.
	DefaultPriority uint64 `json:"default_priority"`
	// InitProc names the image the init process runs.
	InitProc string `json:"init_proc"`
	// AppDir is an optional directory of program images.
	AppDir string `json:"app_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:        "INFO",
		Frames:          8192,
		BigStride:       0x100000,
		DefaultPriority: 16,
		InitProc:        "initproc",
	}
}

// Load reads path over the defaults. Fields missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := setupConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func setupConfig(filePath string, config any) error {
	configFile, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer configFile.Close()

	jsonParser := json.NewDecoder(configFile)
	jsonParser.DisallowUnknownFields()
	return jsonParser.Decode(config)
}

// Validate checks the configuration for values the kernel cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Frames <= 0 {
		errs = append(errs, ErrInvalidFrames)
	}
	if c.BigStride == 0 {
		errs = append(errs, ErrInvalidBigStride)
	}
	if c.DefaultPriority < 2 {
		errs = append(errs, ErrInvalidPriority)
	}
	if c.InitProc == "" {
		errs = append(errs, ErrMissingInitProc)
	}
	return errors.Join(errs...)
}
