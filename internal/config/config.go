package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath           = "config.yaml"
	DefaultPort           = 5001
	DefaultMaxUploadBytes = 50 << 20
	DefaultUploadDir      = "uploads"
	DefaultMongoDatabase  = "medisight"
	DefaultMongoURI       = "mongodb://localhost:27017"
	DefaultInferenceURL   = "http://localhost:8000/predict"
	DefaultOpenAIModel    = "gpt-4o"
)

type Config struct {
	Server struct {
		Port           int   `yaml:"port"`
		MaxUploadBytes int64 `yaml:"maxUploadBytes"`
		RateLimit      struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rateLimit"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Database struct {
		// mysql, postgres atau mongo
		Driver      string `yaml:"driver"`
		URL         string `yaml:"url"`
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		User        string `yaml:"user"`
		Password    string `yaml:"password"`
		Name        string `yaml:"name"`
		AutoMigrate bool   `yaml:"autoMigrate"`
	} `yaml:"database"`

	Inference struct {
		// http atau openai
		Provider string        `yaml:"provider"`
		URL      string        `yaml:"url"`
		Timeout  time.Duration `yaml:"timeout"`
		OpenAI   struct {
			APIKey  string `yaml:"apiKey"`
			BaseURL string `yaml:"baseURL"`
			Model   string `yaml:"model"`
		} `yaml:"openai"`
	} `yaml:"inference"`

	Storage struct {
		// local atau minio
		Driver    string `yaml:"driver"`
		UploadDir string `yaml:"uploadDir"`
	} `yaml:"storage"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// envOverrides holds the variables the deployment scripts already set.
// Empty or nil means "not set".
type envOverrides struct {
	Port              int            `envconfig:"PORT"`
	DatabaseDriver    string         `envconfig:"DATABASE_DRIVER"`
	DatabaseURL       string         `envconfig:"DATABASE_URL"`
	MongoURI          string         `envconfig:"MONGO_URI"`
	InferenceURL      string         `envconfig:"INFERENCE_URL"`
	PythonAPIURL      string         `envconfig:"PYTHON_API_URL"`
	InferenceProvider string         `envconfig:"INFERENCE_PROVIDER"`
	InferenceTimeout  *time.Duration `envconfig:"INFERENCE_TIMEOUT"`
	OpenAIAPIKey      string         `envconfig:"OPENAI_API_KEY"`
	UploadDir         string         `envconfig:"UPLOAD_DIR"`
	MaxUploadBytes    int64          `envconfig:"MAX_UPLOAD_BYTES"`
	LogLevel          string         `envconfig:"LOG_LEVEL"`
	LogFormat         string         `envconfig:"LOG_FORMAT"`
}

// Default returns a config that runs against a local MongoDB and a local
// inference engine.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = DefaultPort
	cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Database.Driver = "mongo"
	cfg.Database.Name = DefaultMongoDatabase
	cfg.Database.AutoMigrate = true
	cfg.Inference.Provider = "http"
	cfg.Inference.URL = DefaultInferenceURL
	cfg.Inference.OpenAI.Model = DefaultOpenAIModel
	cfg.Storage.Driver = "local"
	cfg.Storage.UploadDir = DefaultUploadDir
	cfg.Minio.BucketName = "xrays"
	cfg.Minio.Region = "us-east-1"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return &cfg
}

// Load baca config.yaml (kalau ada), lalu .env dan environment
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// tanpa file config, pakai default + env
	default:
		return nil, err
	}

	// .env opsional; variabel yang sudah ada tidak ditimpa
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.apply(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(env envOverrides) {
	if env.Port != 0 {
		c.Server.Port = env.Port
	}
	if env.DatabaseDriver != "" {
		c.Database.Driver = env.DatabaseDriver
	}
	// MONGO_URI is the old deployment's name and only means something for mongo
	if env.DatabaseURL != "" {
		c.Database.URL = env.DatabaseURL
	} else if env.MongoURI != "" && c.Database.Driver == "mongo" {
		c.Database.URL = env.MongoURI
	}
	if url := firstNonEmpty(env.InferenceURL, env.PythonAPIURL); url != "" {
		c.Inference.URL = url
	}
	if env.InferenceProvider != "" {
		c.Inference.Provider = env.InferenceProvider
	}
	if env.InferenceTimeout != nil {
		c.Inference.Timeout = *env.InferenceTimeout
	}
	if env.OpenAIAPIKey != "" {
		c.Inference.OpenAI.APIKey = env.OpenAIAPIKey
	}
	if env.UploadDir != "" {
		c.Storage.UploadDir = env.UploadDir
	}
	if env.MaxUploadBytes > 0 {
		c.Server.MaxUploadBytes = env.MaxUploadBytes
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		c.Log.Format = env.LogFormat
	}
}

// Validate checks the settings that would otherwise fail at first request.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.maxUploadBytes must be positive"))
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("server.rateLimit values must not be negative"))
	}

	switch c.Database.Driver {
	case "mysql":
		if c.Database.URL == "" && c.Database.Host == "" {
			errs = append(errs, errors.New("database.url or database.host is required for mysql"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
	case "mongo":
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	switch c.Inference.Provider {
	case "http":
		if c.Inference.URL == "" {
			errs = append(errs, errors.New("inference.url is required"))
		}
	case "openai":
		if c.Inference.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("inference.openai.apiKey is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown inference.provider %q", c.Inference.Provider))
	}
	if c.Inference.Timeout < 0 {
		errs = append(errs, errors.New("inference.timeout must not be negative"))
	}

	switch c.Storage.Driver {
	case "local":
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.BucketName == "" {
			errs = append(errs, errors.New("minio.endpoint and minio.bucketName are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Storage.UploadDir == "" {
		errs = append(errs, errors.New("storage.uploadDir is required"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// DatabaseURL is the configured URL, or the local MongoDB when the mongo
// driver runs without one.
func (c *Config) DatabaseURL() string {
	if c.Database.URL == "" && c.Database.Driver == "mongo" {
		return DefaultMongoURI
	}
	return c.Database.URL
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
