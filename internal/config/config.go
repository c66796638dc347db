// Package config loads the process-wide service configuration.
//
// Values are layered, lowest precedence first: the embedded example file,
// an optional TOML or YAML file, then MEDIAUPLOAD_* environment variables
// (plus the conventional AWS_* names for credentials and bucket). The
// resulting [Config] is treated as immutable once the process has started.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed config.example.toml
var exampleConf []byte

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMissingBucket     = errors.New("storage bucket is required")
	ErrMissingRegion     = errors.New("storage region is required")
	ErrPartialKeys       = errors.New("access key id and secret access key must be set together")
	ErrUnsupportedFormat = errors.New("unsupported config file format")
)

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" yaml:"server"`
	Storage StorageConfig `toml:"storage" yaml:"storage"`
	Upload  UploadConfig  `toml:"upload" yaml:"upload"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Client  ClientConfig  `toml:"client" yaml:"client"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `toml:"host" yaml:"host"`
	Port            int           `toml:"port" yaml:"port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig describes the S3 compatible object store.
type StorageConfig struct {
	Bucket          string `toml:"bucket" yaml:"bucket"`
	Region          string `toml:"region" yaml:"region"`
	Endpoint        string `toml:"endpoint" yaml:"endpoint"`
	PublicEndpoint  string `toml:"public_endpoint" yaml:"public_endpoint"`
	PathStyle       bool   `toml:"path_style" yaml:"path_style"`
	AccessKeyID     string `toml:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key" yaml:"secret_access_key"`
	RoleARN         string `toml:"role_arn" yaml:"role_arn"`
	RoleSessionName string `toml:"role_session_name" yaml:"role_session_name"`
}

// ObjectBaseURL returns the base URL object locations are built from when
// the store does not report one.
func (s StorageConfig) ObjectBaseURL() string {
	switch {
	case s.PublicEndpoint != "":
		return strings.TrimRight(s.PublicEndpoint, "/")
	case s.Endpoint != "":
		return strings.TrimRight(s.Endpoint, "/")
	default:
		return fmt.Sprintf("https://s3.%s.amazonaws.com", s.Region)
	}
}

// UploadConfig holds multipart upload settings.
type UploadConfig struct {
	Prefix             string `toml:"prefix" yaml:"prefix"`
	DefaultContentType string `toml:"default_content_type" yaml:"default_content_type"`
	MaxPartBytes       int64  `toml:"max_part_bytes" yaml:"max_part_bytes"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// ClientConfig holds settings for the upload client orchestrator.
type ClientConfig struct {
	BaseURL        string  `toml:"base_url" yaml:"base_url"`
	PartSize       int64   `toml:"part_size" yaml:"part_size"`
	Concurrency    int     `toml:"concurrency" yaml:"concurrency"`
	Retries        int     `toml:"retries" yaml:"retries"`
	PartsPerSecond float64 `toml:"parts_per_second" yaml:"parts_per_second"`
}

// Default returns a Config populated from the embedded example config.
func Default() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// Load builds a Config from defaults, the file at path (if path is not
// empty) and the process environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation. Client side commands use it since they
// never touch the store directly.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return nil
}

// CreateConfigFile writes the embedded example config to path. It refuses
// to overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides cfg with environment variables. The first name found
// in each list wins.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	first := func(names ...string) (string, bool) {
		for _, n := range names {
			if v, ok := lookup(n); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}

	strs := []struct {
		dst   *string
		names []string
	}{
		{&cfg.Server.Host, []string{"MEDIAUPLOAD_HOST"}},
		{&cfg.Storage.Bucket, []string{"MEDIAUPLOAD_BUCKET", "AWS_BUCKET_NAME"}},
		{&cfg.Storage.Region, []string{"MEDIAUPLOAD_REGION", "AWS_REGION"}},
		{&cfg.Storage.Endpoint, []string{"MEDIAUPLOAD_S3_ENDPOINT", "S3_ENDPOINT"}},
		{&cfg.Storage.PublicEndpoint, []string{"MEDIAUPLOAD_PUBLIC_ENDPOINT"}},
		{&cfg.Storage.AccessKeyID, []string{"MEDIAUPLOAD_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}},
		{&cfg.Storage.SecretAccessKey, []string{"MEDIAUPLOAD_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}},
		{&cfg.Storage.RoleARN, []string{"MEDIAUPLOAD_ROLE_ARN"}},
		{&cfg.Upload.Prefix, []string{"MEDIAUPLOAD_PREFIX"}},
		{&cfg.Logging.Level, []string{"MEDIAUPLOAD_LOG_LEVEL", "LOG_LEVEL"}},
		{&cfg.Logging.Format, []string{"MEDIAUPLOAD_LOG_FORMAT"}},
		{&cfg.Client.BaseURL, []string{"MEDIAUPLOAD_BASE_URL"}},
	}
	for _, s := range strs {
		if v, ok := first(s.names...); ok {
			*s.dst = v
		}
	}

	if v, ok := first("MEDIAUPLOAD_PORT", "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: port %q: %v", ErrInvalidConfig, v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := first("MEDIAUPLOAD_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: path style %q: %v", ErrInvalidConfig, v, err)
		}
		cfg.Storage.PathStyle = b
	}
	if v, ok := first("MEDIAUPLOAD_MAX_PART_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: max part bytes %q: %v", ErrInvalidConfig, v, err)
		}
		cfg.Upload.MaxPartBytes = n
	}
	return nil
}

// Validate reports the first problem found in cfg.
func (c *Config) Validate() error {
	if c.Storage.Bucket == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrMissingBucket)
	}
	if c.Storage.Region == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrMissingRegion)
	}
	if (c.Storage.AccessKeyID == "") != (c.Storage.SecretAccessKey == "") {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrPartialKeys)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Upload.MaxPartBytes <= 0 {
		return fmt.Errorf("%w: max part bytes must be positive", ErrInvalidConfig)
	}
	if !strings.HasSuffix(c.Upload.Prefix, "/") {
		return fmt.Errorf("%w: upload prefix %q must end with '/'", ErrInvalidConfig, c.Upload.Prefix)
	}
	return nil
}
