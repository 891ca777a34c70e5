// Package config provides configuration management for facegate.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Comparator names accepted by recognition.comparator.
const (
	ComparatorLowerIsBetter  = "lower_is_better"
	ComparatorHigherIsBetter = "higher_is_better"
)

// Config holds all facegate configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Database    DatabaseConfig    `yaml:"database"`
	Storage     StorageConfig     `yaml:"storage"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds camera settings. Sources lists the available inputs;
// Index selects one of them. An entry is either a video device path or a
// directory of JPEG frames to replay. With no sources, Index maps to /dev/video<Index>.
type CameraConfig struct {
	Index      int      `yaml:"index" validate:"gte=0"`
	Sources    []string `yaml:"sources"`
	FFmpegPath string   `yaml:"ffmpeg_path" validate:"required"`
	Width      int      `yaml:"width" validate:"gt=0"`
	Height     int      `yaml:"height" validate:"gt=0"`
	FPS        int      `yaml:"fps" validate:"gt=0"`
}

// RecognitionConfig holds face recognition and decision settings.
type RecognitionConfig struct {
	// ConfidenceThreshold is on the classifier's own scale. For the dlib
	// engine that is Euclidean descriptor distance.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gte=0"`
	Comparator          string  `yaml:"comparator" validate:"oneof=lower_is_better higher_is_better"`
	LogInterval         int     `yaml:"log_interval" validate:"gt=0"`
	// UnknownDistance drops the gallery label of faces farther than this from
	// every reference sample. Zero disables the cutoff.
	UnknownDistance float64 `yaml:"unknown_distance" validate:"gte=0"`
	ModelPath       string  `yaml:"model_path" validate:"required"`
	ImagesDir       string  `yaml:"images_dir" validate:"required"`
	ModelKind       string  `yaml:"model_kind" validate:"required"`
}

// PersistenceConfig tunes the background event recorder.
type PersistenceConfig struct {
	QueueSize           int           `yaml:"queue_size" validate:"gt=0"`
	WriteTimeout        time.Duration `yaml:"write_timeout" validate:"gt=0"`
	EnqueueTimeout      time.Duration `yaml:"enqueue_timeout" validate:"gte=0"`
	RetryBackoff        time.Duration `yaml:"retry_backoff" validate:"gte=0"`
	ArchiveNoFaceFrames bool          `yaml:"archive_no_face_frames"`
}

// DatabaseConfig selects the event store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" validate:"oneof=sqlite postgres"`
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

// StorageConfig holds data directory and blob settings.
type StorageConfig struct {
	DataDir           string   `yaml:"data_dir" validate:"required"`
	EncryptionEnabled bool     `yaml:"encryption_enabled"`
	BlobBackend       string   `yaml:"blob_backend" validate:"oneof=file s3"`
	S3                S3Config `yaml:"s3"`
}

// S3Config configures the S3 blob backend.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

// APIConfig configures the read-only HTTP API.
type APIConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" validate:"oneof=text json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/facegate")
	return &Config{
		Camera: CameraConfig{
			Index:      0,
			FFmpegPath: "ffmpeg",
			Width:      640,
			Height:     480,
			FPS:        30,
		},
		Recognition: RecognitionConfig{
			ConfidenceThreshold: 0.6,
			Comparator:          ComparatorLowerIsBetter,
			LogInterval:         30,
			UnknownDistance:     1.0,
			ModelPath:           filepath.Join(dataDir, "models"),
			ImagesDir:           filepath.Join(dataDir, "images"),
			ModelKind:           "dlib_resnet",
		},
		Persistence: PersistenceConfig{
			QueueSize:      256,
			WriteTimeout:   2 * time.Second,
			EnqueueTimeout: 50 * time.Millisecond,
			RetryBackoff:   200 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(dataDir, "facegate.db"),
			MaxOpenConns: 5,
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			EncryptionEnabled: true,
			BlobBackend:       "file",
			S3: S3Config{
				Region: "us-east-1",
				Prefix: "failed/",
			},
		},
		API: APIConfig{
			Addr: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       filepath.Join(dataDir, "facegate.log"),
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facegate/facegate.yaml"); err == nil {
		return Load("/etc/facegate/facegate.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facegate/facegate.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ApplyEnv overrides selected settings from FACEGATE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("FACEGATE_DB_DRIVER"); ok {
		c.Database.Driver = v
	}
	if v, ok := os.LookupEnv("FACEGATE_DB_PATH"); ok {
		c.Database.Path = v
	}
	if v, ok := os.LookupEnv("FACEGATE_DB_DSN"); ok {
		c.Database.DSN = v
	}
	if v, ok := os.LookupEnv("FACEGATE_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv("FACEGATE_API_ADDR"); ok {
		c.API.Addr = v
	}
	if v, ok := os.LookupEnv("FACEGATE_S3_BUCKET"); ok {
		c.Storage.S3.Bucket = v
		c.Storage.BlobBackend = "s3"
	}
	if v, ok := os.LookupEnv("FACEGATE_CAMERA_INDEX"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FACEGATE_CAMERA_INDEX: %w", err)
		}
		c.Camera.Index = n
	}
	if v, ok := os.LookupEnv("FACEGATE_CONFIDENCE_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FACEGATE_CONFIDENCE_THRESHOLD: %w", err)
		}
		c.Recognition.ConfidenceThreshold = f
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}

	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite driver")
	}
	if c.Storage.BlobBackend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required for the s3 blob backend")
	}
	if n := len(c.Camera.Sources); n > 0 && c.Camera.Index >= n {
		return fmt.Errorf("camera.index %d out of range (%d sources configured)", c.Camera.Index, n)
	}

	return nil
}

func fieldError(fe validator.FieldError) error {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return fmt.Errorf("invalid %s: %v (must satisfy %s)", path, fe.Value(), rule)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	for i, src := range c.Camera.Sources {
		c.Camera.Sources[i] = ExpandPath(src)
	}
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Recognition.ImagesDir = ExpandPath(c.Recognition.ImagesDir)
	c.Database.Path = ExpandPath(c.Database.Path)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates necessary directories for storage and logging.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.MkdirAll(c.BlobDir(), 0700); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Database.Driver == "sqlite" && c.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(c.Database.Path), 0700); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// BlobDir returns the directory holding archived failed-attempt images.
func (c *Config) BlobDir() string {
	return filepath.Join(c.Storage.DataDir, "failed")
}

// CameraSource returns the input selected by camera.index.
func (c *Config) CameraSource() string {
	if c.Camera.Index < len(c.Camera.Sources) {
		return c.Camera.Sources[c.Camera.Index]
	}
	return fmt.Sprintf("/dev/video%d", c.Camera.Index)
}
