// Package config loads the service configuration from YAML and the
// environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/dentalogic/images"
	"github.com/nvr-ai/dentalogic/inference/detectors"
	"github.com/nvr-ai/dentalogic/inference/providers"
	"github.com/nvr-ai/dentalogic/logging"
)

// Environment overrides.
const (
	EnvPort      = "PORT"
	EnvModelPath = "DENTALOGIC_MODEL_PATH"
	EnvLogLevel  = "DENTALOGIC_LOG_LEVEL"
	EnvBackend   = "DENTALOGIC_PROVIDER"
)

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Model      detectors.Config `json:"model" yaml:"model"`
	Annotation AnnotationConfig `json:"annotation" yaml:"annotation"`
	History    HistoryConfig    `json:"history" yaml:"history"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MaxUploadBytes bounds the multipart body of /predict.
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	// MaxImagePixels bounds the decoded size of an upload, checked from its
	// header before decoding.
	MaxImagePixels int `json:"max_image_pixels" yaml:"max_image_pixels"`
	// AllowedOrigins for CORS; "*" allows any.
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	// WarmUpRuns are executed once the model is loaded.
	WarmUpRuns int `json:"warm_up_runs" yaml:"warm_up_runs"`
}

// AnnotationConfig controls the annotated image returned by /predict.
type AnnotationConfig struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	Quality   int  `json:"quality" yaml:"quality"`
	LineWidth int  `json:"line_width" yaml:"line_width"`
}

// HistoryConfig bounds the in-memory scan history.
type HistoryConfig struct {
	Capacity int `json:"capacity" yaml:"capacity"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration of the reference deployment: port 8000,
// YOLOv8 caries model, JPEG quality 95 annotations.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  10 << 20,
			MaxImagePixels:  images.DefaultMaxPixels,
			AllowedOrigins:  []string{"*"},
		},
		Model: detectors.DefaultConfig(),
		Annotation: AnnotationConfig{
			Enabled:   true,
			Quality:   95,
			LineWidth: 3,
		},
		History: HistoryConfig{Capacity: 100},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
//
// Arguments:
//   - path: The YAML file, may be empty.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: When the file cannot be read or parsed, or validation fails.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv applies the environment overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return errors.Errorf("%s must be a port number, got %q", EnvPort, v)
		}
		c.Server.Addr = ":" + v
	}
	if v, ok := lookup(EnvModelPath); ok && v != "" {
		c.Model.ModelPath = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(providers.SharedLibraryEnv); ok && v != "" {
		c.Model.SharedLibraryPath = v
	}
	if v, ok := lookup(EnvBackend); ok && v != "" {
		backend, err := providers.ParseBackend(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvBackend)
		}
		c.Model.Provider.Backend = backend
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if c.Server.MaxImagePixels <= 0 {
		return errors.Errorf("server.max_image_pixels must be positive, got %d", c.Server.MaxImagePixels)
	}
	if c.Server.WarmUpRuns < 0 {
		return errors.Errorf("server.warm_up_runs must not be negative, got %d", c.Server.WarmUpRuns)
	}
	if err := c.Model.Validate(); err != nil {
		return errors.Wrap(err, "model")
	}
	if c.Annotation.Quality < 1 || c.Annotation.Quality > 100 {
		return errors.Errorf("annotation.quality must be within [1, 100], got %d", c.Annotation.Quality)
	}
	if c.Annotation.LineWidth < 1 {
		return errors.Errorf("annotation.line_width must be positive, got %d", c.Annotation.LineWidth)
	}
	if c.History.Capacity < 0 {
		return errors.Errorf("history.capacity must not be negative, got %d", c.History.Capacity)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return errors.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
