package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Storage  StorageConfig  `yaml:"storage"`
	Vision   VisionConfig   `yaml:"vision"`
	Capture  CaptureConfig  `yaml:"capture"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig configures the event bus. An empty URL disables event publishing.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// MinIOConfig configures object storage for the face corpus and belonging
// photos. An empty endpoint selects the local directories in StorageConfig.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type StorageConfig struct {
	DatasetDir string `yaml:"dataset_dir"`
	PhotosDir  string `yaml:"photos_dir"`
}

type VisionConfig struct {
	CascadePath string `yaml:"cascade_path"`
	ModelPath   string `yaml:"model_path"`
	// ConfidenceFloor is the minimum confidence percent for a match.
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	// OperationalThreshold is the confidence percent the kiosk loop
	// requires before it treats a match as final.
	OperationalThreshold float64 `yaml:"operational_threshold"`
	MaxSamples           int     `yaml:"max_samples"`
}

type CaptureConfig struct {
	Source      string        `yaml:"source"`
	InputFormat string        `yaml:"input_format"`
	FPS         int           `yaml:"fps"`
	Width       int           `yaml:"width"`
	Timeout     time.Duration `yaml:"timeout"`
}

const (
	PolicyStack  = "stack"
	PolicyReject = "reject"
)

type LedgerConfig struct {
	OpenRecordPolicy string `yaml:"open_record_policy"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, for tools that
// run without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Ledger.OpenRecordPolicy {
	case PolicyStack, PolicyReject:
	default:
		return fmt.Errorf("unknown open record policy %q", c.Ledger.OpenRecordPolicy)
	}
	if c.Vision.ConfidenceFloor < 0 || c.Vision.ConfidenceFloor > 100 {
		return fmt.Errorf("confidence floor %.1f out of range [0,100]", c.Vision.ConfidenceFloor)
	}
	if c.Vision.OperationalThreshold < c.Vision.ConfidenceFloor {
		return fmt.Errorf("operational threshold %.1f below confidence floor %.1f",
			c.Vision.OperationalThreshold, c.Vision.ConfidenceFloor)
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/intelliguard.db"
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "intelliguard"
	}
	if cfg.Storage.DatasetDir == "" {
		cfg.Storage.DatasetDir = "./data/dataset"
	}
	if cfg.Storage.PhotosDir == "" {
		cfg.Storage.PhotosDir = "./data/belongings"
	}
	if cfg.Vision.CascadePath == "" {
		cfg.Vision.CascadePath = "./models/haarcascade_frontalface_default.xml"
	}
	if cfg.Vision.ModelPath == "" {
		cfg.Vision.ModelPath = "./data/models/face_model.lbph"
	}
	if cfg.Vision.ConfidenceFloor == 0 {
		cfg.Vision.ConfidenceFloor = 50
	}
	if cfg.Vision.OperationalThreshold == 0 {
		cfg.Vision.OperationalThreshold = 70
	}
	if cfg.Vision.MaxSamples == 0 {
		cfg.Vision.MaxSamples = 10
	}
	if cfg.Capture.Source == "" {
		cfg.Capture.Source = "/dev/video0"
	}
	if cfg.Capture.FPS == 0 {
		cfg.Capture.FPS = 5
	}
	if cfg.Capture.Width == 0 {
		cfg.Capture.Width = 640
	}
	if cfg.Capture.Timeout == 0 {
		cfg.Capture.Timeout = 30 * time.Second
	}
	if cfg.Ledger.OpenRecordPolicy == "" {
		cfg.Ledger.OpenRecordPolicy = PolicyStack
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INTELLIGUARD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("INTELLIGUARD_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("INTELLIGUARD_DB_DRIVER"); v != "" {
		cfg.Database.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("INTELLIGUARD_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("INTELLIGUARD_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("INTELLIGUARD_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("INTELLIGUARD_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("INTELLIGUARD_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("INTELLIGUARD_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("INTELLIGUARD_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("INTELLIGUARD_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("INTELLIGUARD_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("INTELLIGUARD_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("INTELLIGUARD_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("INTELLIGUARD_DATASET_DIR"); v != "" {
		cfg.Storage.DatasetDir = v
	}
	if v := os.Getenv("INTELLIGUARD_PHOTOS_DIR"); v != "" {
		cfg.Storage.PhotosDir = v
	}
	if v := os.Getenv("INTELLIGUARD_CASCADE_PATH"); v != "" {
		cfg.Vision.CascadePath = v
	}
	if v := os.Getenv("INTELLIGUARD_MODEL_PATH"); v != "" {
		cfg.Vision.ModelPath = v
	}
	if v := os.Getenv("INTELLIGUARD_CONFIDENCE_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.ConfidenceFloor = f
		}
	}
	if v := os.Getenv("INTELLIGUARD_CAPTURE_SOURCE"); v != "" {
		cfg.Capture.Source = v
	}
	if v := os.Getenv("INTELLIGUARD_CAPTURE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Capture.Timeout = d
		}
	}
	if v := os.Getenv("INTELLIGUARD_OPEN_RECORD_POLICY"); v != "" {
		cfg.Ledger.OpenRecordPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("INTELLIGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
