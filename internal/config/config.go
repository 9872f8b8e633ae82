// Package config loads chartcore settings from an optional YAML file and
// CHARTCORE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageBadger   = "badger"
)

// Blob drivers. BlobNone disables render archiving.
const (
	BlobNone   = "none"
	BlobMemory = "memory"
	BlobFS     = "fs"
	BlobS3     = "s3"
)

// Config is the full process configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Blob    BlobConfig    `yaml:"blob"`
	Compute ComputeConfig `yaml:"compute"`
	Render  RenderConfig  `yaml:"render"`
	Edits   EditsConfig   `yaml:"edits"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig selects the chart-list store.
type StorageConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres badger"`
	SQLitePath  string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
	BadgerDir   string `yaml:"badger_dir" validate:"required_if=Driver badger"`
}

// BlobConfig selects the render archive backend.
type BlobConfig struct {
	Driver            string `yaml:"driver" validate:"oneof=none memory fs s3"`
	FSRoot            string `yaml:"fs_root" validate:"required_if=Driver fs"`
	S3Bucket          string `yaml:"s3_bucket" validate:"required_if=Driver s3"`
	S3Region          string `yaml:"s3_region"`
	S3Endpoint        string `yaml:"s3_endpoint" validate:"omitempty,url"`
	S3PathStyle       bool   `yaml:"s3_path_style"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key" validate:"required_with=S3AccessKeyID"`
}

// ComputeConfig points at the chart-computation service.
type ComputeConfig struct {
	Endpoint string        `yaml:"endpoint" validate:"omitempty,url"`
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
}

// RenderConfig tunes the render orchestrator. A zero MinInterval selects the
// 1s default; DisableSpacing turns the interval off while overlapping batches
// are still rejected.
type RenderConfig struct {
	MinInterval    time.Duration `yaml:"min_interval" validate:"gte=0"`
	DisableSpacing bool          `yaml:"disable_spacing"`
	Concurrency    int           `yaml:"concurrency" validate:"gte=1,lte=64"`
}

// EditsConfig tunes debounced field edits.
type EditsConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"gt=0"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: StorageSQLite, SQLitePath: "chartcore.db", BadgerDir: "chartcore-badger"},
		Blob:    BlobConfig{Driver: BlobNone, FSRoot: "renders", S3Region: "us-east-1"},
		Compute: ComputeConfig{Timeout: 30 * time.Second},
		Render:  RenderConfig{MinInterval: time.Second, Concurrency: 8},
		Edits:   EditsConfig{Debounce: 1500 * time.Millisecond},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads path (optional) on top of the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"CHARTCORE_STORAGE_DRIVER":     &cfg.Storage.Driver,
		"CHARTCORE_SQLITE_PATH":        &cfg.Storage.SQLitePath,
		"CHARTCORE_POSTGRES_DSN":       &cfg.Storage.PostgresDSN,
		"CHARTCORE_BADGER_DIR":         &cfg.Storage.BadgerDir,
		"CHARTCORE_BLOB_DRIVER":        &cfg.Blob.Driver,
		"CHARTCORE_BLOB_FS_ROOT":       &cfg.Blob.FSRoot,
		"CHARTCORE_BLOB_S3_BUCKET":     &cfg.Blob.S3Bucket,
		"CHARTCORE_BLOB_S3_REGION":     &cfg.Blob.S3Region,
		"CHARTCORE_BLOB_S3_ENDPOINT":   &cfg.Blob.S3Endpoint,
		"CHARTCORE_BLOB_S3_ACCESS_KEY": &cfg.Blob.S3AccessKeyID,
		"CHARTCORE_BLOB_S3_SECRET_KEY": &cfg.Blob.S3SecretAccessKey,
		"CHARTCORE_COMPUTE_ENDPOINT":   &cfg.Compute.Endpoint,
		"CHARTCORE_LOG_LEVEL":          &cfg.Log.Level,
		"CHARTCORE_LOG_FORMAT":         &cfg.Log.Format,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	durations := map[string]*time.Duration{
		"CHARTCORE_COMPUTE_TIMEOUT":     &cfg.Compute.Timeout,
		"CHARTCORE_RENDER_MIN_INTERVAL": &cfg.Render.MinInterval,
		"CHARTCORE_EDIT_DEBOUNCE":       &cfg.Edits.Debounce,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = d
	}
	if v, ok := lookup("CHARTCORE_RENDER_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHARTCORE_RENDER_CONCURRENCY: %w", err)
		}
		cfg.Render.Concurrency = n
	}
	bools := map[string]*bool{
		"CHARTCORE_BLOB_S3_PATH_STYLE":     &cfg.Blob.S3PathStyle,
		"CHARTCORE_RENDER_DISABLE_SPACING": &cfg.Render.DisableSpacing,
	}
	for name, dst := range bools {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
	}
	return nil
}
